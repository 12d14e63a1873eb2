package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr        string
	DatabaseURL string
	DBMaxConns  int
	DBIdleConns int
	JWTSecret   string
	// InviteSecret falls back to JWTSecret when unset.
	InviteSecret string
	InviteTTL    time.Duration
	ClientURL    string
	CORSOrigin   string
	LogLevel     string

	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	EmailWorkers     int
	EmailQueueSize   int
	ReminderInterval time.Duration
	ReminderWindow   time.Duration
	PositionAttempts int
}

func defaults(v *viper.Viper) {
	v.SetDefault("API_ADDR", ":8787")
	// Empty DATABASE_URL runs on the in-memory store.
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("AUTH_JWT_SECRET", "taskboard-dev-secret")
	v.SetDefault("INVITE_SECRET", "")
	v.SetDefault("INVITE_TTL", "24h")
	v.SetDefault("CLIENT_URL", "http://localhost:5173")
	v.SetDefault("CORS_ORIGIN", "*")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("MEILI_URL", "")
	v.SetDefault("MEILI_MASTER_KEY", "")

	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_BUCKET", "taskboard-attachments")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", false)

	// SMTP - empty by default, email disabled if not configured
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMTP_FROM_NAME", "Taskboard")

	v.SetDefault("EMAIL_WORKERS", 2)
	v.SetDefault("EMAIL_QUEUE_SIZE", 256)
	v.SetDefault("REMINDER_INTERVAL", "1m")
	v.SetDefault("REMINDER_WINDOW", "24h")
	v.SetDefault("POSITION_MAX_ATTEMPTS", 5)
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:         v.GetString("API_ADDR"),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		DBMaxConns:   v.GetInt("DATABASE_MAX_CONNS"),
		DBIdleConns:  v.GetInt("DATABASE_MAX_IDLE_CONNS"),
		JWTSecret:    v.GetString("AUTH_JWT_SECRET"),
		InviteSecret: v.GetString("INVITE_SECRET"),
		InviteTTL:    v.GetDuration("INVITE_TTL"),
		ClientURL:    strings.TrimRight(v.GetString("CLIENT_URL"), "/"),
		CORSOrigin:   v.GetString("CORS_ORIGIN"),
		LogLevel:     v.GetString("LOG_LEVEL"),

		RedisURL:       v.GetString("REDIS_URL"),
		MeiliURL:       v.GetString("MEILI_URL"),
		MeiliMasterKey: v.GetString("MEILI_MASTER_KEY"),

		S3Endpoint:  v.GetString("S3_ENDPOINT"),
		S3AccessKey: v.GetString("S3_ACCESS_KEY"),
		S3SecretKey: v.GetString("S3_SECRET_KEY"),
		S3Bucket:    v.GetString("S3_BUCKET"),
		S3Region:    v.GetString("S3_REGION"),
		S3UseSSL:    v.GetBool("S3_USE_SSL"),

		SMTPHost:     v.GetString("SMTP_HOST"),
		SMTPPort:     v.GetString("SMTP_PORT"),
		SMTPUsername: v.GetString("SMTP_USERNAME"),
		SMTPPassword: v.GetString("SMTP_PASSWORD"),
		SMTPFrom:     v.GetString("SMTP_FROM"),
		SMTPFromName: v.GetString("SMTP_FROM_NAME"),

		EmailWorkers:     v.GetInt("EMAIL_WORKERS"),
		EmailQueueSize:   v.GetInt("EMAIL_QUEUE_SIZE"),
		ReminderInterval: v.GetDuration("REMINDER_INTERVAL"),
		ReminderWindow:   v.GetDuration("REMINDER_WINDOW"),
		PositionAttempts: v.GetInt("POSITION_MAX_ATTEMPTS"),
	}
	if cfg.InviteSecret == "" {
		cfg.InviteSecret = cfg.JWTSecret
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.JWTSecret == "":
		return fmt.Errorf("config: AUTH_JWT_SECRET is required")
	case c.InviteTTL <= 0:
		return fmt.Errorf("config: INVITE_TTL must be positive")
	case c.ReminderInterval <= 0:
		return fmt.Errorf("config: REMINDER_INTERVAL must be positive")
	case c.ReminderWindow < 0:
		return fmt.Errorf("config: REMINDER_WINDOW must not be negative")
	case c.DBMaxConns <= 0:
		return fmt.Errorf("config: DATABASE_MAX_CONNS must be positive")
	case c.DBIdleConns < 0 || c.DBIdleConns > c.DBMaxConns:
		return fmt.Errorf("config: DATABASE_MAX_IDLE_CONNS must be between 0 and DATABASE_MAX_CONNS")
	case c.PositionAttempts <= 0:
		return fmt.Errorf("config: POSITION_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// StorageEnabled reports whether attachment storage is configured.
func (c Config) StorageEnabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}
