package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/transfer"
)

const instagramGraphURL = "https://graph.instagram.com"

type InstagramAdapter struct {
	cfg    config.Config
	client *http.Client
}

func NewInstagramAdapter(cfg config.Config) *InstagramAdapter {
	return &InstagramAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *InstagramAdapter) Platform() string { return models.PlatformInstagram }

// Publish creates a media container for the asset, then publishes it.
// Single-asset posts go out as Reels; multi-asset posts as a carousel.
func (a *InstagramAdapter) Publish(ctx context.Context, accessToken string, req *PublishRequest) error {
	if len(req.MediaURLs) == 0 {
		return Permanent(a.Platform(), "", "post has no media")
	}

	var containerID string
	var err error

	if req.PostType == models.PostTypeMultiple {
		containerID, err = a.createCarouselContainer(ctx, accessToken, req)
	} else {
		containerID, err = a.createContainer(ctx, accessToken, req.AccountRef, url.Values{
			"media_type": {"REELS"},
			"video_url":  {req.MediaURLs[0]},
			"caption":    {req.Caption},
		})
	}
	if err != nil {
		return err
	}

	return a.publishContainer(ctx, accessToken, req.AccountRef, containerID)
}

func (a *InstagramAdapter) createCarouselContainer(ctx context.Context, accessToken string, req *PublishRequest) (string, error) {
	children := make([]string, 0, len(req.MediaURLs))
	for _, mediaURL := range req.MediaURLs {
		childID, err := a.createContainer(ctx, accessToken, req.AccountRef, url.Values{
			"image_url":        {mediaURL},
			"is_carousel_item": {"true"},
		})
		if err != nil {
			return "", err
		}
		children = append(children, childID)
	}

	values := url.Values{
		"media_type": {"CAROUSEL"},
		"caption":    {req.Caption},
	}
	for _, child := range children {
		values.Add("children", child)
	}
	return a.createContainer(ctx, accessToken, req.AccountRef, values)
}

func (a *InstagramAdapter) createContainer(ctx context.Context, accessToken, accountRef string, values url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media", instagramGraphURL, accountRef)

	var result transfer.InstagramContainerResponse
	if err := a.postForm(ctx, endpoint, accessToken, values, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", a.classify(result.Error)
	}
	return result.ID, nil
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, accessToken, accountRef, containerID string) error {
	endpoint := fmt.Sprintf("%s/%s/media_publish", instagramGraphURL, accountRef)

	var result transfer.InstagramPublishResponse
	err := a.postForm(ctx, endpoint, accessToken, url.Values{"creation_id": {containerID}}, &result)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return a.classify(result.Error)
	}
	return nil
}

func (a *InstagramAdapter) postForm(ctx context.Context, endpoint, accessToken string, values url.Values, out any) error {
	values.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Permanent(a.Platform(), "", err.Error())
	}
	req.URL.RawQuery = values.Encode()

	resp, err := a.client.Do(req)
	if err != nil {
		return Wrap(a.Platform(), err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Wrap(a.Platform(), err)
	}
	return nil
}

// Refresh extends a long-lived Instagram token. Instagram returns a new
// access token only; the same value keeps serving as the refresh
// credential.
func (a *InstagramAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	endpoint := fmt.Sprintf(
		"%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		instagramGraphURL, url.QueryEscape(refreshToken),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Permanent(a.Platform(), "", err.Error())
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, Wrap(a.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error *transfer.InstagramError `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil && failure.Error != nil {
			return nil, a.classify(failure.Error)
		}
		return nil, &Error{
			Kind:     classifyStatus(resp.StatusCode),
			Platform: a.Platform(),
			Message:  fmt.Sprintf("token refresh returned status %d", resp.StatusCode),
		}
	}

	var tokenResponse transfer.InstagramTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, Wrap(a.Platform(), err)
	}

	return &Token{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.AccessToken,
		ExpiresAt:    time.Now().Add(time.Second * time.Duration(tokenResponse.ExpiresIn)),
	}, nil
}

// classify maps Graph API error codes. Code 190 is OAuthException
// (expired or revoked token); 4, 17 and 32 are throttling codes.
func (a *InstagramAdapter) classify(igErr *transfer.InstagramError) *Error {
	kind := KindPermanent
	switch igErr.Code {
	case 4, 17, 32, 613:
		kind = KindTransient
	case 1, 2:
		kind = KindTransient // unknown/service errors
	case 190, 102:
		kind = KindRevoked
	}
	return &Error{
		Kind:     kind,
		Platform: a.Platform(),
		Code:     fmt.Sprintf("%d", igErr.Code),
		Message:  igErr.Message,
	}
}
