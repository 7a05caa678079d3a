package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	OTLPEndpoint string
	OtelEnabled  bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Email     EmailConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig

	EngineConfigPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig throttles outbound notifications per channel. It needs redis.
type RateLimitConfig struct {
	Enabled         bool
	NotifyPerMinute int
	NotifyBurst     int
}

// SchedulerConfig selects which periodic jobs this process runs.
type SchedulerConfig struct {
	Disabled          bool
	EnabledJobs       []string
	JobTimeoutSeconds int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type AdminConfig struct {
	SlackChannel    string
	SlackWebhookURL string
	Emails          []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "creatorops"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OtelEnabled:  getenvBool("OTEL_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creatorops"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "noreply@creatorops.local"),
		},
		Admin: AdminConfig{
			SlackChannel:    strings.TrimSpace(getenv("SLACK_ADMIN_CHANNEL", "")),
			SlackWebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			Emails:          parseList(getenv("ADMIN_EMAILS", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("NOTIFY_RATE_LIMIT_ENABLED", false),
			NotifyPerMinute: getenvInt("NOTIFY_RATE_PER_MINUTE", 60),
			NotifyBurst:     getenvInt("NOTIFY_RATE_BURST", 20),
		},
		Scheduler: SchedulerConfig{
			Disabled:          getenvBool("SCHEDULER_DISABLED", false),
			EnabledJobs:       parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			JobTimeoutSeconds: getenvInt("SCHEDULER_JOB_TIMEOUT_SECONDS", 600),
		},
		EngineConfigPath: strings.TrimSpace(getenv("ENGINE_CONFIG_PATH", "")),
	}

	return cfg
}

// IsProduction reports whether the process runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
