package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

// Pipeline holds the tuning knobs for the scheduled publishing pipeline.
type Pipeline struct {
	PollInterval     time.Duration
	BatchLimit       int
	Concurrency      int
	RetryCeiling     int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	BackoffJitter    time.Duration
	PublishTimeout   time.Duration
	ClaimMaxDuration time.Duration
	RefreshMargin    time.Duration
}

type Config struct {
	InstagramClientID     string
	InstagramClientSecret string
	TiktokClientKey       string
	TiktokClientSecret    string
	GoogleClientID        string
	GoogleClientSecret    string
	PostgresURI           string
	RedisURI              string
	NotifierURL           string
	FrontendURL           string
	R2                    R2
	Pipeline              Pipeline
	SecretKey             string
	CookieName            string
}

func LoadConfig() *Config {
	return &Config{
		InstagramClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		TiktokClientKey:       getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:    getEnv("TIKTOK_CLIENT_SECRET", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", ""),
		NotifierURL:           getEnv("NOTIFIER_URL", ""),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		Pipeline: Pipeline{
			PollInterval:     getEnvDuration("POLL_INTERVAL", 15*time.Second),
			BatchLimit:       getEnvInt("BATCH_LIMIT", 50),
			Concurrency:      getEnvInt("WORKER_CONCURRENCY", 10),
			RetryCeiling:     getEnvInt("RETRY_CEILING", 5),
			BackoffBase:      getEnvDuration("BACKOFF_BASE", 30*time.Second),
			BackoffCap:       getEnvDuration("BACKOFF_CAP", 10*time.Minute),
			BackoffJitter:    getEnvDuration("BACKOFF_JITTER", 10*time.Second),
			PublishTimeout:   getEnvDuration("PUBLISH_TIMEOUT", 2*time.Minute),
			ClaimMaxDuration: getEnvDuration("CLAIM_MAX_DURATION", 10*time.Minute),
			RefreshMargin:    getEnvDuration("TOKEN_REFRESH_MARGIN", 10*time.Minute),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "postpilot_session"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
