package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cfg "postpilot/configs"
)

// MediaResolver turns a stored object key into a URL the platforms can
// pull from.
type MediaResolver interface {
	PresignURL(ctx context.Context, key string) (string, error)
}

// MediaService resolves media references against Cloudflare R2. The
// pipeline only ever reads media; uploads belong to the dashboard
// backend.
type MediaService struct {
	config    cfg.Config
	presigner *s3.PresignClient
}

func NewMediaService(c cfg.Config) (*MediaService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.R2.AccessKey, c.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2.AccountID))
	})

	return &MediaService{
		config:    c,
		presigner: s3.NewPresignClient(client),
	}, nil
}

// PresignURL returns a time-limited GET URL for the object. The expiry
// leaves the platform enough time to pull the file after the publish
// call returns.
func (m *MediaService) PresignURL(ctx context.Context, key string) (string, error) {
	request, err := m.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.config.R2.BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(1*time.Hour))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return request.URL, nil
}
