package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BotToken     string
	SuperAdminID int64
	BotName      string
	Debug        bool

	DBDriver          string
	DBPath            string
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	RedisURL           string
	SessionIdleMinutes int

	ListenAddr         string
	WebhookURL         string
	CORSAllowedOrigins []string
	TrustProxy         bool

	BroadcastConcurrency int
	EventRateLimit       int
	ContentSeedPath      string

	NotifySender string
	SMTPHost     string
	SMTPPort     int
	NotifyFrom   string
	NotifyTo     []string
}

var digitsRx = regexp.MustCompile(`[0-9]+`)

func Load() (Config, error) {
	cfg := Config{
		BotToken:             strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		BotName:              env("BOT_NAME", "Dynamic Admin Bot"),
		Debug:                envBool("DEBUG", true),
		DBDriver:             strings.ToLower(env("DB_DRIVER", "sqlite")),
		DBPath:               env("DATABASE_NAME", "bot.db"),
		DatabaseURL:          env("DATABASE_URL", ""),
		DBMaxOpenConns:       envInt("DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:       envInt("DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:    time.Duration(envInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		RedisURL:             env("REDIS_URL", ""),
		SessionIdleMinutes:   envInt("SESSION_IDLE_MINUTES", 60),
		ListenAddr:           env("LISTEN_ADDR", ""),
		WebhookURL:           strings.TrimRight(env("WEBHOOK_URL", ""), "/"),
		CORSAllowedOrigins:   envCSV("CORS_ALLOWED_ORIGINS"),
		TrustProxy:           envBool("TRUST_PROXY", false),
		BroadcastConcurrency: envInt("BROADCAST_CONCURRENCY", 8),
		EventRateLimit:       envInt("EVENT_RATE_LIMIT", 30),
		ContentSeedPath:      env("CONTENT_SEED_PATH", ""),
		NotifySender:         strings.ToLower(env("NOTIFY_SENDER", "log")),
		SMTPHost:             env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:             envInt("SMTP_PORT", 25),
		NotifyFrom:           env("NOTIFY_FROM", ""),
		NotifyTo:             envCSV("NOTIFY_TO"),
	}

	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("BOT_TOKEN is not set in environment variables")
	}
	rawAdmin := strings.TrimSpace(os.Getenv("SUPER_ADMIN_ID"))
	if rawAdmin == "" {
		return Config{}, fmt.Errorf("SUPER_ADMIN_ID is not set in environment variables")
	}
	id, err := ParseAccountID(rawAdmin)
	if err != nil {
		return Config{}, fmt.Errorf("SUPER_ADMIN_ID: %w", err)
	}
	cfg.SuperAdminID = id

	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return Config{}, fmt.Errorf("DATABASE_NAME must not be empty")
		}
	case "postgres", "mysql":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when DB_DRIVER=%s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.SessionIdleMinutes <= 0 {
		return Config{}, fmt.Errorf("SESSION_IDLE_MINUTES must be positive")
	}
	if cfg.BroadcastConcurrency <= 0 {
		return Config{}, fmt.Errorf("BROADCAST_CONCURRENCY must be positive")
	}
	if cfg.EventRateLimit <= 0 {
		return Config{}, fmt.Errorf("EVENT_RATE_LIMIT must be positive")
	}
	if cfg.WebhookURL != "" {
		if !strings.HasPrefix(cfg.WebhookURL, "https://") {
			return Config{}, fmt.Errorf("WEBHOOK_URL must be an https URL")
		}
		if cfg.ListenAddr == "" {
			return Config{}, fmt.Errorf("LISTEN_ADDR is required when WEBHOOK_URL is set")
		}
	}
	switch cfg.NotifySender {
	case "", "log", "none":
		if cfg.NotifySender == "" {
			cfg.NotifySender = "log"
		}
	case "smtp":
		if cfg.NotifyFrom == "" || len(cfg.NotifyTo) == 0 {
			return Config{}, fmt.Errorf("NOTIFY_FROM and NOTIFY_TO are required when NOTIFY_SENDER=smtp")
		}
		if cfg.SMTPPort <= 0 {
			return Config{}, fmt.Errorf("invalid SMTP_PORT")
		}
	default:
		return Config{}, fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp, none")
	}
	return cfg, nil
}

// ParseAccountID accepts a clean integer or recovers the first run of digits
// from a decorated value such as "id: 12345".
func ParseAccountID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		return n, nil
	}
	m := digitsRx.FindString(raw)
	if m == "" {
		return 0, fmt.Errorf("no numeric identity in %q", raw)
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid numeric identity %q", m)
	}
	return n, nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) WebhookMode() bool {
	return c.WebhookURL != ""
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
