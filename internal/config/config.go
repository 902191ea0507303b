package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアのバックエンド種別。
const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity (Clerk)
	ClerkJWTKey            string
	ClerkAuthorizedParties []string

	// Payment (Stripe)
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	TrialPeriodDays     int64

	// Real-time (LiveKit)
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// Store
	StoreBackend             string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RoomSessionSweepInterval time.Duration

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitToken   int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	AppURL     string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// DOTENV_PATH（既定: .env）のファイルが存在すれば先に読み込む。
// 既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotenv(getEnvString("DOTENV_PATH", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.ClerkJWTKey = required("CLERK_JWT_KEY")
	cfg.StripeSecretKey = required("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = required("STRIPE_WEBHOOK_SECRET")
	cfg.StripePriceID = required("STRIPE_PRICE_ID")
	cfg.LiveKitURL = required("LIVEKIT_URL")
	cfg.LiveKitAPIKey = required("LIVEKIT_API_KEY")
	cfg.LiveKitAPISecret = required("LIVEKIT_API_SECRET")

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendMemory))
	switch cfg.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendPostgres:
		cfg.DatabaseURL = required("DATABASE_URL")
	case StoreBackendRedis:
		cfg.RedisAddr = required("REDIS_ADDR")
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ClerkAuthorizedParties = getEnvList("CLERK_AUTHORIZED_PARTIES")
	cfg.TrialPeriodDays = int64(getEnvInt("TRIAL_PERIOD_DAYS", 7))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	cfg.RoomSessionSweepInterval = getEnvDuration("ROOM_SESSION_SWEEP_INTERVAL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitToken = getEnvInt("RATE_LIMIT_TOKEN", 10)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AppURL = strings.TrimRight(getEnvString("APP_URL", "http://localhost:3000"), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.AppURL)

	return cfg, nil
}

// loadDotenv はdotenvファイルを読み込む。ファイルが無い場合は何もしない。
func loadDotenv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
