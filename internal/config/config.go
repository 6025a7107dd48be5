package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev      bool   `envconfig:"LOG_DEV" default:"false"`

	// Storage
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"` // memory | postgres | sqlite
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/convertapi.db"`

	// Artifacts
	ArtifactDriver string `envconfig:"ARTIFACT_DRIVER" default:"local"` // local | s3
	UploadDir      string `envconfig:"UPLOAD_DIR" default:"uploads"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"S3_SECRET_KEY"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"artifacts"`

	// Auth
	JWTSecret     string        `envconfig:"JWT_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	AdminEmail    string        `envconfig:"ADMIN_EMAIL"`
	AdminPassword string        `envconfig:"ADMIN_PASSWORD"`

	// Dispatch
	Workers           int           `envconfig:"DISPATCH_WORKERS" default:"4"`
	QueueSize         int           `envconfig:"DISPATCH_QUEUE_SIZE" default:"256"`
	ConversionTimeout time.Duration `envconfig:"CONVERSION_TIMEOUT" default:"5m"`
	EngineDelay       time.Duration `envconfig:"ENGINE_DELAY" default:"2s"`

	// HTTP
	MaxUploadMB    int64    `envconfig:"MAX_UPLOAD_MB" default:"110"`
	AllowAnonymous bool     `envconfig:"ALLOW_ANONYMOUS" default:"false"`
	AnonRate       float64  `envconfig:"ANON_RATE" default:"0.1"`
	AnonBurst      int      `envconfig:"ANON_BURST" default:"3"`
	RequestRate    float64  `envconfig:"REQUEST_RATE" default:"5"`
	RequestBurst   int      `envconfig:"REQUEST_BURST" default:"20"`
	PublicBaseURL  string   `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	CORSOrigins    []string `envconfig:"CORS_ORIGINS" default:"*"`

	// DownloadLinkTTL bounds signed download links such as QR codes.
	DownloadLinkTTL time.Duration `envconfig:"DOWNLOAD_LINK_TTL" default:"15m"`

	// Notifications
	TelegramBotToken        string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID     int64  `envconfig:"TELEGRAM_ALERT_CHAT_ID"`
	TelegramNotifyCompleted bool   `envconfig:"TELEGRAM_NOTIFY_COMPLETED" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.ArtifactDriver {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 artifact store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ARTIFACT_DRIVER %q", c.ArtifactDriver))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("DISPATCH_WORKERS must be positive"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("DISPATCH_QUEUE_SIZE must not be negative"))
	}
	if c.ConversionTimeout <= 0 {
		errs = append(errs, errors.New("CONVERSION_TIMEOUT must be positive"))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAlertChatID != 0
}
