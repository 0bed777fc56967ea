package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/transfer"
)

const (
	tiktokTokenURL     = "https://open.tiktokapis.com/v2/oauth/token/"
	tiktokVideoInitURL = "https://open.tiktokapis.com/v2/post/publish/video/init/"
	tiktokPhotoInitURL = "https://open.tiktokapis.com/v2/post/publish/content/init/"
)

type TiktokAdapter struct {
	cfg    config.Config
	client *http.Client
}

func NewTiktokAdapter(cfg config.Config) *TiktokAdapter {
	return &TiktokAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *TiktokAdapter) Platform() string { return models.PlatformTiktok }

func (a *TiktokAdapter) Publish(ctx context.Context, accessToken string, req *PublishRequest) error {
	if len(req.MediaURLs) == 0 {
		return Permanent(a.Platform(), "", "post has no media")
	}

	var body []byte
	var initURL string
	var err error

	switch req.PostType {
	case models.PostTypeMultiple:
		initURL = tiktokPhotoInitURL
		body, err = json.Marshal(transfer.TiktokPhotoUploadRequest{
			PostInfo: transfer.TiktokPhotoPostInfo{
				Title:        req.Caption,
				PrivacyLevel: "PUBLIC_TO_EVERYONE",
				AutoAddMusic: true,
			},
			SourceInfo: transfer.TiktokPhotoSourceInfo{
				Source:          "PULL_FROM_URL",
				PhotoCoverIndex: 1,
				PhotoImages:     req.MediaURLs,
			},
			PostMode:  "DIRECT_POST",
			MediaType: "PHOTO",
		})
	default:
		initURL = tiktokVideoInitURL
		body, err = json.Marshal(transfer.TiktokVideoUploadRequest{
			PostInfo: transfer.TiktokVideoPostInfo{
				Title:                 req.Caption,
				PrivacyLevel:          "PUBLIC_TO_EVERYONE",
				VideoCoverTimestampMs: 1000,
			},
			SourceInfo: transfer.TiktokVideoSourceInfo{
				Source:   "PULL_FROM_URL",
				VideoURL: req.MediaURLs[0],
			},
		})
	}
	if err != nil {
		return Permanent(a.Platform(), "", "marshal upload request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, bytes.NewBuffer(body))
	if err != nil {
		return Permanent(a.Platform(), "", err.Error())
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Wrap(a.Platform(), err)
	}
	defer resp.Body.Close()

	var result transfer.TiktokUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Wrap(a.Platform(), err)
	}

	if resp.StatusCode != http.StatusOK || !tiktokOK(result.Error.Code) {
		return &Error{
			Kind:     classifyTiktokCode(result.Error.Code, resp.StatusCode),
			Platform: a.Platform(),
			Code:     result.Error.Code,
			Message:  result.Error.Message,
		}
	}

	return nil
}

func (a *TiktokAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("client_key", a.cfg.TiktokClientKey)
	data.Set("client_secret", a.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, Permanent(a.Platform(), "", err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, Wrap(a.Platform(), err)
	}
	defer resp.Body.Close()

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, Wrap(a.Platform(), err)
	}

	if tokenResponse.Error != "" || tokenResponse.AccessToken == "" {
		kind := classifyStatus(resp.StatusCode)
		if tokenResponse.Error == "invalid_grant" {
			kind = KindRevoked
		}
		return nil, &Error{
			Kind:     kind,
			Platform: a.Platform(),
			Code:     tokenResponse.Error,
			Message:  tokenResponse.ErrorDescription,
		}
	}

	return &Token{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Second * time.Duration(tokenResponse.ExpiresIn)),
	}, nil
}

func tiktokOK(code string) bool {
	return code == "" || code == "ok"
}

// classifyTiktokCode maps TikTok content-posting error codes onto the
// shared taxonomy. Codes are documented in the Content Posting API.
func classifyTiktokCode(code string, status int) Kind {
	switch code {
	case "rate_limit_exceeded", "internal_error":
		return KindTransient
	case "access_token_invalid", "scope_not_authorized", "scope_permission_missed":
		return KindRevoked
	case "spam_risk_too_many_posts", "spam_risk_user_banned_from_posting",
		"reached_active_user_cap", "unaudited_client_can_only_post_to_private_accounts",
		"url_ownership_unverified", "privacy_level_option_mismatch",
		"picture_size_check_failed", "invalid_file_upload", "invalid_params":
		return KindPermanent
	default:
		return classifyStatus(status)
	}
}
