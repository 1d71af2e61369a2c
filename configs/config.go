package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID     string
	AccessKey     string
	SecretKey     string
	BucketName    string
	PublicBaseURL string
}

// Scheduler groups the tunables of the claim/dispatch pipeline. It is built
// once at startup and passed by value; nothing mutates it afterwards.
type Scheduler struct {
	Lookahead         time.Duration
	TickInterval      time.Duration
	ReapPublishing    time.Duration
	ReapQueued        time.Duration
	DriftWarn         time.Duration
	RetryDelay        time.Duration
	RetryBudget       int
	PauseOnConsecFail int
	MinSpacing        time.Duration
	DayStartHour      int
	DayEndHour        int
	DailyLimit        int
	ClaimBatchSize    int
}

type Config struct {
	PostgresURI      string
	RedisURI         string
	AppBaseURL       string
	FrontendURL      string
	MetaGraphVersion string
	MockMeta         bool
	WorkerID         string
	SecretKey        string
	R2               R2
	Scheduler        Scheduler
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI:      getEnv("POSTGRES_URI", ""),
		RedisURI:         getEnv("REDIS_URI", "127.0.0.1:6379"),
		AppBaseURL:       getEnv("APP_BASE_URL", "http://localhost:8080"),
		FrontendURL:      getEnv("FRONTEND_URL", "http://localhost:5173"),
		MetaGraphVersion: getEnv("META_GRAPH_VERSION", "v19.0"),
		MockMeta:         getEnvBool("MOCK_META", true),
		WorkerID:         workerID(),
		SecretKey:        getEnv("SECRET_KEY", ""),
		R2: R2{
			AccountID:     getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:     getEnv("R2_ACCESS_KEY", ""),
			SecretKey:     getEnv("R2_SECRET_KEY", ""),
			BucketName:    getEnv("R2_BUCKET_NAME", ""),
			PublicBaseURL: getEnv("R2_PUBLIC_BASE_URL", ""),
		},
		Scheduler: Scheduler{
			Lookahead:         getEnvSeconds("LOOKAHEAD_SEC", 30),
			TickInterval:      getEnvSeconds("SCHEDULER_TICK_SEC", 10),
			ReapPublishing:    getEnvSeconds("REAP_PUBLISHING_AFTER_SEC", 120),
			ReapQueued:        getEnvSeconds("REAP_QUEUED_AFTER_SEC", 300),
			DriftWarn:         getEnvSeconds("DRIFT_WARN_SEC", 2),
			RetryDelay:        getEnvSeconds("RETRY_DELAY_SEC", 600),
			RetryBudget:       getEnvInt("RETRY_BUDGET", 1),
			PauseOnConsecFail: getEnvInt("PAUSE_ON_CONSEC_FAILS", 3),
			MinSpacing:        time.Duration(getEnvInt("MIN_SPACING_MINUTES", 15)) * time.Minute,
			DayStartHour:      getEnvInt("DAY_START_HOUR", 8),
			DayEndHour:        getEnvInt("DAY_END_HOUR", 22),
			DailyLimit:        getEnvInt("DAILY_LIMIT", 15),
			ClaimBatchSize:    getEnvInt("CLAIM_BATCH_SIZE", 50),
		},
	}
}

func workerID() string {
	if host := os.Getenv("HOSTNAME"); host != "" {
		return host
	}
	return "worker"
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
