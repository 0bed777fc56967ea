package transfer

import "github.com/golang-jwt/jwt/v5"

// PostCreation is the enqueue request from the dashboard backend. Media
// is referenced by asset id; the pipeline never receives file bytes.
type PostCreation struct {
	Caption     string  `json:"caption"`
	Title       string  `json:"title"`
	ScheduledAt string  `json:"scheduled_at"` // RFC 3339, UTC
	AccountIDs  []int64 `json:"account_ids"`
	AssetIDs    []int64 `json:"asset_ids"`
}

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
