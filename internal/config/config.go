package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Clinical data source: "fixture" (built-in demo patients) or "fhir".
	DataSource         string `mapstructure:"DATA_SOURCE"`
	FHIRBaseURL        string `mapstructure:"FHIR_BASE_URL"`
	FHIRToken          string `mapstructure:"FHIR_TOKEN"`
	FHIRTimeoutSeconds int    `mapstructure:"FHIR_TIMEOUT_SECONDS"`

	MonitorIntervalMinutes int  `mapstructure:"MONITOR_INTERVAL_MINUTES"`
	MonitorWorkers         int  `mapstructure:"MONITOR_WORKERS"`
	MonitorEnabled         bool `mapstructure:"MONITOR_ENABLED"`

	DoseTolerancePct int `mapstructure:"DOSE_TOLERANCE_PCT"`
	AutoAcceptHours  int `mapstructure:"AUTO_ACCEPT_HOURS"`
	RetentionDays    int `mapstructure:"RETENTION_DAYS"`

	NotifyMaxAttempts    int      `mapstructure:"NOTIFY_MAX_ATTEMPTS"`
	ChatWebhookURL       string   `mapstructure:"CHAT_WEBHOOK_URL"`
	ChatWebhookSecret    string   `mapstructure:"CHAT_WEBHOOK_SECRET"`
	SMTPHost             string   `mapstructure:"SMTP_HOST"`
	SMTPPort             int      `mapstructure:"SMTP_PORT"`
	SMTPFrom             string   `mapstructure:"SMTP_FROM"`
	SMTPUsername         string   `mapstructure:"SMTP_USERNAME"`
	SMTPPassword         string   `mapstructure:"SMTP_PASSWORD"`
	AlertEmailRecipients []string `mapstructure:"ALERT_EMAIL_RECIPIENTS"`

	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DATA_SOURCE", "fixture")
	v.SetDefault("FHIR_TIMEOUT_SECONDS", 5)
	v.SetDefault("MONITOR_INTERVAL_MINUTES", 15)
	v.SetDefault("MONITOR_WORKERS", 4)
	v.SetDefault("MONITOR_ENABLED", true)
	v.SetDefault("DOSE_TOLERANCE_PCT", 20)
	v.SetDefault("AUTO_ACCEPT_HOURS", 72)
	v.SetDefault("RETENTION_DAYS", 90)
	v.SetDefault("NOTIFY_MAX_ATTEMPTS", 3)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DATA_SOURCE")
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("FHIR_TOKEN")
	v.BindEnv("FHIR_TIMEOUT_SECONDS")
	v.BindEnv("MONITOR_INTERVAL_MINUTES")
	v.BindEnv("MONITOR_WORKERS")
	v.BindEnv("MONITOR_ENABLED")
	v.BindEnv("DOSE_TOLERANCE_PCT")
	v.BindEnv("AUTO_ACCEPT_HOURS")
	v.BindEnv("RETENTION_DAYS")
	v.BindEnv("NOTIFY_MAX_ATTEMPTS")
	v.BindEnv("CHAT_WEBHOOK_URL")
	v.BindEnv("CHAT_WEBHOOK_SECRET")
	v.BindEnv("SMTP_HOST")
	v.BindEnv("SMTP_PORT")
	v.BindEnv("SMTP_FROM")
	v.BindEnv("SMTP_USERNAME")
	v.BindEnv("SMTP_PASSWORD")
	v.BindEnv("ALERT_EMAIL_RECIPIENTS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.AlertEmailRecipients == nil {
		recips := v.GetString("ALERT_EMAIL_RECIPIENTS")
		if recips != "" {
			cfg.AlertEmailRecipients = strings.Split(recips, ",")
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Dashboard auth is permissive — unauthenticated requests are")
		log.Println("WARNING: attributed to a default reviewer. Do NOT use in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RequireDatabase ensures a database URL is configured. Every command that
// touches the alert store calls this; dry-run evaluation against the fixture
// source is the one path that does not.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks that the configuration is safe to run. A production server
// must carry a JWT secret so reviewer actions are attributable, and a FHIR
// data source must name its base URL. Clinical thresholds are range-checked
// because a zero tolerance or interval would make the monitor fire nonsense.
func (c *Config) Validate() error {
	switch c.DataSource {
	case "fixture", "fhir":
	default:
		return fmt.Errorf("DATA_SOURCE must be \"fixture\" or \"fhir\", got %q", c.DataSource)
	}
	if c.DataSource == "fhir" && c.FHIRBaseURL == "" {
		return fmt.Errorf("FHIR_BASE_URL is required when DATA_SOURCE is \"fhir\"")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.DoseTolerancePct < 1 || c.DoseTolerancePct > 100 {
		return fmt.Errorf("DOSE_TOLERANCE_PCT must be between 1 and 100, got %d", c.DoseTolerancePct)
	}
	if c.MonitorIntervalMinutes < 1 {
		return fmt.Errorf("MONITOR_INTERVAL_MINUTES must be at least 1, got %d", c.MonitorIntervalMinutes)
	}
	if c.MonitorWorkers < 1 {
		return fmt.Errorf("MONITOR_WORKERS must be at least 1, got %d", c.MonitorWorkers)
	}
	if c.AutoAcceptHours < 1 {
		return fmt.Errorf("AUTO_ACCEPT_HOURS must be at least 1, got %d", c.AutoAcceptHours)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1, got %d", c.RetentionDays)
	}
	if c.NotifyMaxAttempts < 1 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be at least 1, got %d", c.NotifyMaxAttempts)
	}
	return nil
}
