package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	config "postpilot/configs"
	"postpilot/internal/models"
)

type YoutubeAdapter struct {
	cfg config.Config
}

func NewYoutubeAdapter(cfg config.Config) *YoutubeAdapter {
	return &YoutubeAdapter{cfg: cfg}
}

func (a *YoutubeAdapter) Platform() string { return models.PlatformYoutube }

// Publish uploads the post's video. YouTube has no pull-from-URL API,
// so the video is staged through a temp file first.
func (a *YoutubeAdapter) Publish(ctx context.Context, accessToken string, req *PublishRequest) error {
	if len(req.MediaURLs) == 0 {
		return Permanent(a.Platform(), "", "post has no media")
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return Wrap(a.Platform(), err)
	}

	tempFile, err := a.download(ctx, req.MediaURLs[0])
	if err != nil {
		return err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return Wrap(a.Platform(), err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Caption,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	if _, err := call.Media(file).Context(ctx).Do(); err != nil {
		return a.classify(err)
	}
	return nil
}

func (a *YoutubeAdapter) download(ctx context.Context, mediaURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", Wrap(a.Platform(), err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", Permanent(a.Platform(), "", err.Error())
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", Wrap(a.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Remove(tempFile.Name())
		return "", &Error{
			Kind:     classifyStatus(resp.StatusCode),
			Platform: a.Platform(),
			Message:  fmt.Sprintf("media download returned status %d", resp.StatusCode),
		}
	}

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		os.Remove(tempFile.Name())
		return "", Wrap(a.Platform(), err)
	}
	return tempFile.Name(), nil
}

func (a *YoutubeAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	conf := &oauth2.Config{
		ClientID:     a.cfg.GoogleClientID,
		ClientSecret: a.cfg.GoogleClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
		Endpoint:     google.Endpoint,
	}

	tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			kind := classifyStatus(retrieveErr.Response.StatusCode)
			if retrieveErr.ErrorCode == "invalid_grant" {
				kind = KindRevoked
			}
			return nil, &Error{
				Kind:     kind,
				Platform: a.Platform(),
				Code:     retrieveErr.ErrorCode,
				Message:  retrieveErr.ErrorDescription,
			}
		}
		return nil, Wrap(a.Platform(), err)
	}

	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// classify maps YouTube Data API errors. Quota and rate reasons are
// transient; auth failures mean the grant is gone.
func (a *YoutubeAdapter) classify(err error) *Error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return Wrap(a.Platform(), err)
	}

	kind := classifyStatus(apiErr.Code)
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "backendError":
			kind = KindTransient
		case "authError", "forbidden":
			kind = KindRevoked
		case "invalidVideoMetadata", "mediaBodyRequired", "invalidFilename", "uploadLimitExceeded":
			kind = KindPermanent
		}
	}

	return &Error{
		Kind:     kind,
		Platform: a.Platform(),
		Code:     fmt.Sprintf("%d", apiErr.Code),
		Message:  apiErr.Message,
	}
}
