package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// DatabaseURL selects PostgreSQL; empty runs on the in-memory store.
	DatabaseURL   string `yaml:"database_url"`
	MigrationsDir string `yaml:"migrations_dir" validate:"required_with=DatabaseURL"`

	// Redis notification queue
	RedisURL    string `yaml:"redis_url" validate:"omitempty,url"`
	NotifyQueue string `yaml:"notify_queue" validate:"required"`

	MeiliURL       string `yaml:"meili_url" validate:"omitempty,url"`
	MeiliMasterKey string `yaml:"meili_master_key"`

	// Archive bucket
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key" validate:"required_with=MinioEndpoint"`
	MinioSecretKey string `yaml:"minio_secret_key" validate:"required_with=MinioEndpoint"`
	MinioBucket    string `yaml:"minio_bucket" validate:"required_with=MinioEndpoint"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	// ReposDir holds one git repository per document; empty disables revisions.
	ReposDir string `yaml:"repos_dir"`

	// SMTP - email disabled if not configured
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port" validate:"omitempty,numeric"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	SMTPFrom     string `yaml:"smtp_from" validate:"omitempty,email"`
	SMTPFromName string `yaml:"smtp_from_name"`
	MailDomain   string `yaml:"mail_domain" validate:"omitempty,hostname"`

	SweepInterval      time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	SweepRate          float64       `yaml:"sweep_rate" validate:"gt=0"`
	EscalationTimeout  time.Duration `yaml:"escalation_timeout" validate:"gte=0"`
	EscalationMaxDepth int           `yaml:"escalation_max_depth" validate:"gte=0"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the environment, falling back to defaults for unset keys.
func Load() Config {
	return Config{
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("APPROVALS_MIGRATIONS_DIR", "./db/migrations"),
		// Redis notification queue
		RedisURL:    getenv("REDIS_URL", ""),
		NotifyQueue: getenv("APPROVALS_NOTIFY_QUEUE", "approvals:notifications"),
		// Search index
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		// Archive bucket
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "approvals-archive"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		// Revision repositories
		ReposDir: getenv("APPROVALS_REPOS_DIR", "./data/repos"),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Approvals"),
		MailDomain:   getenv("APPROVALS_MAIL_DOMAIN", ""),
		// Escalation sweep and per-document defaults
		SweepInterval:      time.Duration(getenvInt("APPROVALS_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		SweepRate:          getenvFloat("APPROVALS_SWEEP_RATE", 10),
		EscalationTimeout:  time.Duration(getenvInt("APPROVALS_ESCALATION_TIMEOUT_HOURS", 24)) * time.Hour,
		EscalationMaxDepth: getenvInt("APPROVALS_ESCALATION_MAX_DEPTH", 3),
		LogLevel:           strings.ToLower(getenv("APPROVALS_LOG_LEVEL", "info")),
	}
}

// LoadFile overlays the keys present in a YAML file onto base.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return cfg, nil
}

// Resolve loads the environment, applies APPROVALS_CONFIG when set and validates the result.
func Resolve() (Config, error) {
	cfg := Load()
	if path := os.Getenv("APPROVALS_CONFIG"); path != "" {
		var err error
		cfg, err = LoadFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// SlogLevel maps LogLevel onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
