package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Mailchimp   MailchimpConfig
	Webhook     WebhookConfig
	Telegram    TelegramConfig
	Email       EmailConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Unsubscribe UnsubscribeConfig
	Retention   RetentionConfig
	Tracing     TracingConfig
	Logging     LoggingConfig
	APIKeys     []string
	Environment string
}

type ServerConfig struct {
	Host            string
	Port            int
	BaseURL         string
	PublicSiteURL   string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

// Enabled reports whether the subscriber mirror and job queue are available.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

type MailchimpConfig struct {
	APIKey            string
	AudienceID        string
	ServerPrefix      string
	SignupURL         string
	WelcomeWorkflowID string
	WelcomeEmailID    string
	Timeout           time.Duration
}

// Configured reports whether member operations can be sent to Mailchimp.
func (m MailchimpConfig) Configured() bool {
	return m.APIKey != "" && m.AudienceID != ""
}

type WebhookConfig struct {
	PrimaryURL string
	BackupURL  string
	Timeout    time.Duration
	Retries    int
	HealthTTL  time.Duration
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIURL   string
}

type EmailConfig struct {
	Enabled      bool
	ResendAPIKey string
	From         string
	AdminEmail   string
	TemplatesDir string
}

// RateLimitConfig holds per-tier request budgets. Each tier allows Limit
// requests per Window for a single client.
type RateLimitConfig struct {
	General           RateTier
	Newsletter        RateTier
	Forms             RateTier
	Stats             RateTier
	Unsubscribe       RateTier
	TrustedProxyCIDRs []string
}

type RateTier struct {
	Limit  int
	Window time.Duration
}

type CORSConfig struct {
	AllowAllOrigins bool
	AllowedOrigins  []string
}

type UnsubscribeConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type RetentionConfig struct {
	UnsubscribedDays int
	SubmissionsDays  int
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	OTLPEndpoint string
	ServiceName  string
	SampleRate   float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables only.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile reads an optional YAML file of KEY: value pairs and then applies
// the process environment on top of it. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	src := source{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &src); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	environment := src.get("ENVIRONMENT", "development")
	apiKey := src.get("MAILCHIMP_API_KEY", "")

	cfg := Config{
		Server: ServerConfig{
			Host:            src.get("SERVER_HOST", "0.0.0.0"),
			Port:            src.getInt("SERVER_PORT", 8080),
			BaseURL:         src.get("SERVER_BASE_URL", "http://localhost:8080"),
			PublicSiteURL:   src.get("PUBLIC_SITE_URL", "https://ignitehealthsystems.com"),
			ShutdownTimeout: src.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:    int64(src.getInt("MAX_BODY_BYTES", 1<<20)),
		},
		Database: DatabaseConfig{
			URL:            src.get("DATABASE_URL", ""),
			MaxConnections: src.getInt("DB_MAX_CONNECTIONS", 10),
		},
		Mailchimp: MailchimpConfig{
			APIKey:            apiKey,
			AudienceID:        src.get("MAILCHIMP_AUDIENCE_ID", src.get("MAILCHIMP_LIST_ID", "")),
			ServerPrefix:      src.get("MAILCHIMP_SERVER_PREFIX", serverPrefixFromKey(apiKey)),
			SignupURL:         src.get("MAILCHIMP_SIGNUP_URL", "https://eepurl.com/ignite-health"),
			WelcomeWorkflowID: src.get("MAILCHIMP_WELCOME_WORKFLOW_ID", ""),
			WelcomeEmailID:    src.get("MAILCHIMP_WELCOME_EMAIL_ID", ""),
			Timeout:           src.getDuration("MAILCHIMP_TIMEOUT", 10*time.Second),
		},
		Webhook: WebhookConfig{
			PrimaryURL: src.get("N8N_WEBHOOK_URL", ""),
			BackupURL:  src.get("N8N_WEBHOOK_URL_BACKUP", ""),
			Timeout:    src.getDuration("WEBHOOK_TIMEOUT", 5*time.Second),
			Retries:    src.getInt("WEBHOOK_RETRIES", 3),
			HealthTTL:  src.getDuration("WEBHOOK_HEALTH_TTL", 5*time.Minute),
		},
		Telegram: TelegramConfig{
			BotToken: src.get("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   src.get("TELEGRAM_CHAT_ID", src.get("TELEGRAM_MONITORING_CHAT_ID", "")),
			APIURL:   src.get("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		Email: EmailConfig{
			Enabled:      src.getBool("EMAIL_ENABLED", false),
			ResendAPIKey: src.get("RESEND_API_KEY", ""),
			From:         src.get("EMAIL_FROM", "Ignite Health Systems <hello@ignitehealthsystems.com>"),
			AdminEmail:   src.get("ADMIN_EMAIL", ""),
			TemplatesDir: src.get("EMAIL_TEMPLATES_DIR", "web/email/templates"),
		},
		RateLimit: RateLimitConfig{
			General:           RateTier{Limit: src.getInt("RATE_LIMIT_GENERAL", 100), Window: time.Minute},
			Newsletter:        RateTier{Limit: src.getInt("RATE_LIMIT_NEWSLETTER", 5), Window: time.Hour},
			Forms:             RateTier{Limit: src.getInt("RATE_LIMIT_FORMS", 10), Window: time.Hour},
			Stats:             RateTier{Limit: src.getInt("RATE_LIMIT_STATS", 10), Window: time.Minute},
			Unsubscribe:       RateTier{Limit: src.getInt("RATE_LIMIT_UNSUBSCRIBE", 30), Window: time.Hour},
			TrustedProxyCIDRs: splitList(src.get("TRUSTED_PROXY_CIDRS", "")),
		},
		Unsubscribe: UnsubscribeConfig{
			Secret:   src.get("UNSUBSCRIBE_SECRET", ""),
			TokenTTL: src.getDuration("UNSUBSCRIBE_TOKEN_TTL", 720*time.Hour),
		},
		Retention: RetentionConfig{
			UnsubscribedDays: src.getInt("RETENTION_UNSUBSCRIBED_DAYS", 730),
			SubmissionsDays:  src.getInt("RETENTION_SUBMISSIONS_DAYS", 1095),
		},
		Tracing: TracingConfig{
			Enabled:      src.getBool("TRACING_ENABLED", false),
			Exporter:     src.get("TRACING_EXPORTER", "stdout"),
			OTLPEndpoint: src.get("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  src.get("OTEL_SERVICE_NAME", "funnel"),
			SampleRate:   src.getFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Logging: LoggingConfig{
			Level:  src.get("LOG_LEVEL", "info"),
			Format: src.get("LOG_FORMAT", "json"),
		},
		APIKeys:     splitList(src.get("API_KEYS", "")),
		Environment: environment,
	}

	origins := splitList(src.get("CORS_ALLOWED_ORIGINS", ""))
	if len(origins) == 0 && environment != "production" {
		cfg.CORS.AllowAllOrigins = true
	}
	cfg.CORS.AllowedOrigins = origins

	if cfg.Unsubscribe.Secret == "" && environment != "production" {
		cfg.Unsubscribe.Secret = "development-unsubscribe-secret"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	for name, tier := range map[string]RateTier{
		"RATE_LIMIT_GENERAL":     c.RateLimit.General,
		"RATE_LIMIT_NEWSLETTER":  c.RateLimit.Newsletter,
		"RATE_LIMIT_FORMS":       c.RateLimit.Forms,
		"RATE_LIMIT_STATS":       c.RateLimit.Stats,
		"RATE_LIMIT_UNSUBSCRIBE": c.RateLimit.Unsubscribe,
	} {
		if tier.Limit <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Environment == "production" {
		if len(c.CORS.AllowedOrigins) == 0 {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS is required in production")
		}
		if len(c.Unsubscribe.Secret) < 32 {
			return fmt.Errorf("UNSUBSCRIBE_SECRET must be at least 32 characters in production")
		}
	}
	if c.Email.Enabled && c.Email.ResendAPIKey == "" {
		return fmt.Errorf("RESEND_API_KEY is required when EMAIL_ENABLED is true")
	}
	return nil
}

// serverPrefixFromKey extracts the datacenter suffix of a Mailchimp API key
// ("abc123-us6" -> "us6").
func serverPrefixFromKey(key string) string {
	if i := strings.LastIndex(key, "-"); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return ""
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// source resolves a key from the environment first and then from the
// optional config file.
type source map[string]string

func (s source) get(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value, ok := s[key]; ok && value != "" {
		return value
	}
	return fallback
}

func (s source) getInt(key string, fallback int) int {
	value := s.get(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getFloat(key string, fallback float64) float64 {
	value := s.get(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getBool(key string, fallback bool) bool {
	value := s.get(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getDuration(key string, fallback time.Duration) time.Duration {
	value := s.get(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
