package models

import "time"

type ScheduledPost struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	PostType    string    `db:"post_type" json:"post_type"`
	Caption     string    `db:"caption" json:"caption"`
	Title       string    `db:"title" json:"title"`
	ScheduledAt time.Time `db:"scheduled_at" json:"scheduled_at"`
	Status      string    `db:"status" json:"status"` // scheduled, posted, failed
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PublishTask is one publish attempt target: a post paired with one
// linked account. A post targeting two platforms yields two tasks
// sharing the same post id. Tasks move through the lifecycle
// independently; claim exclusivity is enforced by conditional updates
// keyed on (status, version), never by an in-process lock.
type PublishTask struct {
	ID              int64      `db:"id" json:"id"`
	PostID          int64      `db:"post_id" json:"post_id"`
	AccountID       int64      `db:"account_id" json:"account_id"`
	Platform        string     `db:"platform" json:"platform"`
	Status          string     `db:"status" json:"status"`
	ScheduledAt     time.Time  `db:"scheduled_at" json:"scheduled_at"`
	AttemptCount    int        `db:"attempt_count" json:"attempt_count"`
	LastErrorKind   string     `db:"last_error_kind" json:"last_error_kind"`
	LastError       string     `db:"last_error" json:"last_error"`
	LastAttemptedAt *time.Time `db:"last_attempted_at" json:"last_attempted_at"`
	NextRetryAt     *time.Time `db:"next_retry_at" json:"next_retry_at"`
	ClaimedBy       string     `db:"claimed_by" json:"claimed_by"`
	ClaimedAt       *time.Time `db:"claimed_at" json:"claimed_at"`
	Version         int64      `db:"version" json:"version"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

type MediaAsset struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	FileName     string    `db:"file_name"`
	FileType     string    `db:"file_type"`
	FileSize     int64     `db:"file_size"`
	ObjectKey    string    `db:"object_key"`
	ThumbnailURL string    `db:"thumbnail_url"`
	CreatedAt    time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

const (
	PostStatusScheduled = "scheduled"
	PostStatusPosted    = "posted"
	PostStatusFailed    = "failed"
)

const (
	TaskStatusScheduled       = "scheduled"
	TaskStatusClaimed         = "claimed"
	TaskStatusRetryPending    = "retry_pending"
	TaskStatusPublished       = "published"
	TaskStatusFailedPermanent = "failed_permanent"
)

const (
	PostTypeSingle   = "single"
	PostTypeMultiple = "multiple"
)

// Terminal reports whether the task has reached a final state.
func (t *PublishTask) Terminal() bool {
	return t.Status == TaskStatusPublished || t.Status == TaskStatusFailedPermanent
}
