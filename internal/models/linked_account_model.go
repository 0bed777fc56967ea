package models

import (
	"time"
)

// LinkedAccount holds the OAuth credentials for one platform account.
// Access and refresh tokens are stored AES-GCM encrypted; linking and
// unlinking happen outside the pipeline, which only reads tokens,
// rotates them on refresh, and flags the row revoked when a platform
// rejects a refresh irrecoverably.
type LinkedAccount struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Platform        string    `db:"platform" json:"platform"`
	AccountID       string    `db:"account_id" json:"account_id"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	ProfilePicture  string    `db:"profile_picture_url" json:"profile_picture"`
	AccessToken     string    `db:"access_token" json:"-"`
	RefreshToken    string    `db:"refresh_token" json:"-"`
	TokenExpiresAt  time.Time `db:"token_expires_at" json:"token_expires_at"`
	Revoked         bool      `db:"revoked" json:"revoked"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PlatformTiktok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYoutube   = "youtube"
)
