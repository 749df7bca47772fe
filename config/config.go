package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"reward-engine/models"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort       string
	DatabaseURL    string
	GatewayToken   string
	AllowedOrigins string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TelegramBotToken string
	AdminChatID      int64

	ReferrerReward    int64
	ReferredReward    int64
	RequiredReferrals int64
	Channels          []models.Channel

	ReferralValidationDelay time.Duration
	OutboxPollInterval      time.Duration
	OutboxBatchSize         int
	OutboxMaxAttempts       int
	MembershipCacheTTL      time.Duration
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	r := &reader{}
	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "5200"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		GatewayToken:   os.Getenv("GATEWAY_TOKEN"),
		AllowedOrigins: origins(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       r.int("REDIS_DB", 0),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminChatID:      r.int64("ADMIN_CHAT_ID", 0),

		ReferrerReward:    r.int64("REFERRER_REWARD", 5),
		ReferredReward:    r.int64("REFERRED_REWARD", 5),
		RequiredReferrals: r.int64("REQUIRED_REFERRALS", 2),
		Channels:          r.channels("ONBOARDING_CHANNELS"),

		ReferralValidationDelay: r.duration("REFERRAL_VALIDATION_DELAY", 30*time.Second),
		OutboxPollInterval:      r.duration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:         r.int("OUTBOX_BATCH_SIZE", 50),
		OutboxMaxAttempts:       r.int("OUTBOX_MAX_ATTEMPTS", 10),
		MembershipCacheTTL:      r.duration("MEMBERSHIP_CACHE_TTL", 10*time.Minute),
	}
	if r.err != nil {
		return nil, r.err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.GatewayToken == "" {
		return nil, errors.New("GATEWAY_TOKEN is required")
	}
	if cfg.ReferrerReward <= 0 {
		return nil, errors.New("REFERRER_REWARD must be positive")
	}
	if cfg.ReferredReward < 0 || cfg.RequiredReferrals < 0 {
		return nil, errors.New("REFERRED_REWARD and REQUIRED_REFERRALS must not be negative")
	}
	if cfg.OutboxPollInterval <= 0 || cfg.OutboxBatchSize <= 0 || cfg.OutboxMaxAttempts <= 0 {
		return nil, errors.New("outbox settings must be positive")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// origins normalizes a comma-separated list for fiber's CORS config.
func origins(raw string) string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

// reader parses typed env values and keeps the first error.
type reader struct {
	err error
}

func (r *reader) fail(key, raw string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func (r *reader) int64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return v
}

func (r *reader) int(key string, def int) int {
	return int(r.int64(key, int64(def)))
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return v
}

func (r *reader) channels(key string) []models.Channel {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []models.Channel
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		r.fail(key, raw, err)
		return nil
	}
	for _, ch := range out {
		if ch.ChatID == 0 {
			r.fail(key, raw, errors.New("channel without chat_id"))
			return nil
		}
	}
	return out
}
