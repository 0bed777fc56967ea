// Package platform holds the per-destination publishing adapters. Each
// adapter owns one external platform's request shapes, auth headers and
// response interpretation, and classifies every failure it returns.
// Adding a platform means adding an adapter; nothing in the scheduler,
// worker or state machine changes.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an adapter failure. The publish worker never inspects
// platform responses itself; it only consumes this tag.
type Kind string

const (
	// KindTransient failures are expected to resolve on retry: rate
	// limits, timeouts, 5xx-equivalent responses.
	KindTransient Kind = "transient"
	// KindPermanent failures will not resolve by retrying: policy
	// rejections, malformed payloads.
	KindPermanent Kind = "permanent"
	// KindRevoked means the platform no longer honors the account's
	// authorization. The account must be flagged so later tasks fail
	// fast without a network call.
	KindRevoked Kind = "revoked"
)

// Error is a classified platform failure.
type Error struct {
	Kind     Kind
	Platform string
	Code     string
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Platform, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func Transient(platform, code, message string) *Error {
	return &Error{Kind: KindTransient, Platform: platform, Code: code, Message: message}
}

func Permanent(platform, code, message string) *Error {
	return &Error{Kind: KindPermanent, Platform: platform, Code: code, Message: message}
}

func Revoked(platform, code, message string) *Error {
	return &Error{Kind: KindRevoked, Platform: platform, Code: code, Message: message}
}

// Wrap classifies an underlying transport error. Network failures and
// timeouts are transient.
func Wrap(platform string, err error) *Error {
	return &Error{Kind: KindTransient, Platform: platform, Message: err.Error(), cause: err}
}

// KindOf extracts the classification from err. Unclassified errors are
// treated as transient so an adapter bug never turns a recoverable
// hiccup into a user-visible permanent failure.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// classifyStatus maps an HTTP status to a failure kind. Shared by the
// adapters; platform-specific error codes may override it.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status == http.StatusUnauthorized:
		return KindRevoked
	default:
		return KindPermanent
	}
}

// Token is the result of a credential refresh, in plaintext. Encryption
// at rest belongs to the credential store, not to adapters.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// PublishRequest carries everything an adapter needs for one publish
// attempt. Media is referenced by fetchable URL; adapters never receive
// raw bytes.
type PublishRequest struct {
	Caption    string
	Title      string
	PostType   string
	AccountRef string // platform-side account id, used by graph-style APIs
	MediaURLs  []string
}

type Adapter interface {
	Platform() string
	Publish(ctx context.Context, accessToken string, req *PublishRequest) error
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// Registry resolves adapters by platform identifier.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Lookup(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}
