package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	UserStorePostgres = "postgres"
	UserStoreMongo    = "mongo"
	UserStoreMemory   = "memory"

	CodeStoreMemory = "memory"
	CodeStoreRedis  = "redis"
)

type Config struct {
	Env                string
	Port               string
	UserStore          string
	DatabaseURL        string
	Mongo              MongoConfig
	RedisURL           string
	CodeStore          string
	CodeSweepInterval  time.Duration
	JWTSecret          string
	SessionTTL         time.Duration
	NoEmailVerify      bool
	TOTPIssuer         string
	Email              EmailConfig
	Twilio             TwilioConfig
	Log                LogConfig
	TrustedProxies     []string
	RateLimitPerMinute int
}

type MongoConfig struct {
	URI      string
	Database string
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.From != ""
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func (c Config) Development() bool {
	return c.Env == "development"
}

// Load reads the process environment. A .env file in the working directory is
// merged in first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	cfg := Config{
		Env:                strings.ToLower(getenvDefault("APP_ENV", "production")),
		Port:               getenvDefault("PORT", "8080"),
		UserStore:          strings.ToLower(getenvDefault("USER_STORE", UserStorePostgres)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           getenvDefault("REDIS_URL", "redis://localhost:6379"),
		CodeStore:          strings.ToLower(getenvDefault("CODE_STORE", CodeStoreMemory)),
		CodeSweepInterval:  parseDuration(os.Getenv("CODE_SWEEP_INTERVAL"), 5*time.Minute),
		JWTSecret:          clean(os.Getenv("JWT_SECRET")),
		SessionTTL:         parseDuration(os.Getenv("SESSION_TTL"), 7*24*time.Hour),
		NoEmailVerify:      parseBool(os.Getenv("NO_EMAIL_VERIFY")),
		TOTPIssuer:         getenvDefault("TOTP_ISSUER", "GardenHub"),
		TrustedProxies:     parseList(os.Getenv("TRUSTED_PROXIES")),
		RateLimitPerMinute: parseInt(os.Getenv("RATE_LIMIT_PER_MINUTE"), 120),
	}

	cfg.Mongo = MongoConfig{
		URI:      getenvDefault("MONGO_URI", "mongodb://localhost:27017"),
		Database: getenvDefault("MONGO_DATABASE", "gardenhub"),
	}

	cfg.Email = EmailConfig{
		Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     parseInt(clean(getenvDefault("EMAIL_SERVER_PORT", "587")), 587),
		Username: clean(os.Getenv("EMAIL_SERVER_USER")),
		Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
		From:     clean(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
	}

	cfg.Twilio = TwilioConfig{
		AccountSID: clean(os.Getenv("TWILIO_ACCOUNT_SID")),
		AuthToken:  clean(os.Getenv("TWILIO_AUTH_TOKEN")),
		From:       clean(os.Getenv("TWILIO_FROM")),
	}

	cfg.Log = LogConfig{
		File:       getenvDefault("LOG_FILE", "logs/server.log"),
		MaxSizeMB:  parseInt(os.Getenv("LOG_MAX_SIZE_MB"), 20),
		MaxBackups: parseInt(os.Getenv("LOG_MAX_BACKUPS"), 5),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.UserStore {
	case UserStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when USER_STORE=%s", UserStorePostgres)
		}
	case UserStoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("MONGO_URI is required when USER_STORE=%s", UserStoreMongo)
		}
	case UserStoreMemory:
	default:
		return fmt.Errorf("unknown USER_STORE %q", c.UserStore)
	}
	switch c.CodeStore {
	case CodeStoreMemory, CodeStoreRedis:
	default:
		return fmt.Errorf("unknown CODE_STORE %q", c.CodeStore)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(val string) bool {
	if val == "" {
		return false
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func parseInt(val string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return def
	}
	return n
}

func parseDuration(val string, def time.Duration) time.Duration {
	if strings.TrimSpace(val) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseList(val string) []string {
	parts := strings.Split(val, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
