// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of a sync run. Secrets are resolved separately by package secrets.
type Config struct {
	DataDir   string `mapstructure:"BULUT_KLINIK_DATA_DIR"`
	BaseURL   string `mapstructure:"BULUT_KLINIK_BASE_URL"`
	Headless  bool   `mapstructure:"BROWSER_HEADLESS"`
	ForceSync bool   `mapstructure:"FORCE_SYNC"`
	KeepCount int    `mapstructure:"KEEP_COUNT"`

	BlobDriver      string `mapstructure:"CLINICSYNC_BLOB_DRIVER"`
	BlobS3Bucket    string `mapstructure:"CLINICSYNC_BLOB_S3_BUCKET"`
	BlobS3Region    string `mapstructure:"CLINICSYNC_BLOB_S3_REGION"`
	BlobS3Endpoint  string `mapstructure:"CLINICSYNC_BLOB_S3_ENDPOINT"`
	BlobS3PathStyle bool   `mapstructure:"CLINICSYNC_BLOB_S3_PATH_STYLE"`

	StoreDriver        string `mapstructure:"CLINICSYNC_STORE_DRIVER"`
	StoreDSN           string `mapstructure:"CLINICSYNC_STORE_DSN"`
	FirestoreProjectID string `mapstructure:"FIRESTORE_PROJECT_ID"`

	LockDriver string `mapstructure:"CLINICSYNC_LOCK_DRIVER"`
	RedisURL   string `mapstructure:"REDIS_URL"`

	EventsDriver string   `mapstructure:"CLINICSYNC_EVENTS_DRIVER"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`
	SQSQueueURL  string   `mapstructure:"SQS_QUEUE_URL"`

	SetmoreExportDir string `mapstructure:"SETMORE_EXPORT_DIR"`
	SetmoreExportURL string `mapstructure:"SETMORE_EXPORT_URL"`

	ImmunizationScheduleFile string `mapstructure:"IMMUNIZATION_SCHEDULE_FILE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	LoginTimeout     time.Duration `mapstructure:"LOGIN_TIMEOUT"`
	TwoFactorTimeout time.Duration `mapstructure:"TWO_FACTOR_TIMEOUT"`
	DownloadTimeout  time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`
	BatchTimeout     time.Duration `mapstructure:"BATCH_TIMEOUT"`
	RunSoftCap       time.Duration `mapstructure:"RUN_SOFT_CAP"`
}

var keys = []string{
	"BULUT_KLINIK_DATA_DIR", "BULUT_KLINIK_BASE_URL", "BROWSER_HEADLESS", "FORCE_SYNC", "KEEP_COUNT",
	"CLINICSYNC_BLOB_DRIVER", "CLINICSYNC_BLOB_S3_BUCKET", "CLINICSYNC_BLOB_S3_REGION",
	"CLINICSYNC_BLOB_S3_ENDPOINT", "CLINICSYNC_BLOB_S3_PATH_STYLE",
	"CLINICSYNC_STORE_DRIVER", "CLINICSYNC_STORE_DSN", "FIRESTORE_PROJECT_ID",
	"CLINICSYNC_LOCK_DRIVER", "REDIS_URL",
	"CLINICSYNC_EVENTS_DRIVER", "KAFKA_BROKERS", "KAFKA_TOPIC", "SQS_QUEUE_URL",
	"SETMORE_EXPORT_DIR", "SETMORE_EXPORT_URL", "IMMUNIZATION_SCHEDULE_FILE",
	"LOG_LEVEL", "LOG_FORMAT",
	"LOGIN_TIMEOUT", "TWO_FACTOR_TIMEOUT", "DOWNLOAD_TIMEOUT", "BATCH_TIMEOUT", "RUN_SOFT_CAP",
}

// Load reads configuration into a fresh viper instance. The instance is returned
// so secrets can be resolved from the same sources.
func Load() (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg, err := FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// FromViper unmarshals and validates a configured viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BULUT_KLINIK_DATA_DIR", "data")
	v.SetDefault("BULUT_KLINIK_BASE_URL", "https://app.bulutklinik.com")
	v.SetDefault("BROWSER_HEADLESS", true)
	v.SetDefault("FORCE_SYNC", false)
	v.SetDefault("KEEP_COUNT", 5)
	v.SetDefault("CLINICSYNC_BLOB_DRIVER", "fs")
	v.SetDefault("CLINICSYNC_BLOB_S3_REGION", "eu-central-1")
	v.SetDefault("CLINICSYNC_STORE_DRIVER", "sqlite")
	v.SetDefault("CLINICSYNC_LOCK_DRIVER", "file")
	v.SetDefault("CLINICSYNC_EVENTS_DRIVER", "none")
	v.SetDefault("KAFKA_TOPIC", "clinicsync.runs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOGIN_TIMEOUT", "20s")
	v.SetDefault("TWO_FACTOR_TIMEOUT", "2m")
	v.SetDefault("DOWNLOAD_TIMEOUT", "30s")
	v.SetDefault("BATCH_TIMEOUT", "10s")
	v.SetDefault("RUN_SOFT_CAP", "30m")
}

// Validate checks driver selections and their required companions.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("BULUT_KLINIK_DATA_DIR is required")
	}
	switch c.BlobDriver {
	case "fs", "memory":
	case "s3":
		if c.BlobS3Bucket == "" {
			return fmt.Errorf("CLINICSYNC_BLOB_S3_BUCKET is required when CLINICSYNC_BLOB_DRIVER=s3")
		}
	default:
		return fmt.Errorf("CLINICSYNC_BLOB_DRIVER must be fs, s3 or memory, got %q", c.BlobDriver)
	}
	switch c.StoreDriver {
	case "sqlite", "memory":
	case "postgres":
		if c.StoreDSN == "" {
			return fmt.Errorf("CLINICSYNC_STORE_DSN is required when CLINICSYNC_STORE_DRIVER=postgres")
		}
	case "firestore":
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required when CLINICSYNC_STORE_DRIVER=firestore")
		}
	default:
		return fmt.Errorf("CLINICSYNC_STORE_DRIVER must be sqlite, postgres, firestore or memory, got %q", c.StoreDriver)
	}
	switch c.LockDriver {
	case "file":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CLINICSYNC_LOCK_DRIVER=redis")
		}
	default:
		return fmt.Errorf("CLINICSYNC_LOCK_DRIVER must be file or redis, got %q", c.LockDriver)
	}
	switch c.EventsDriver {
	case "none", "":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when CLINICSYNC_EVENTS_DRIVER=kafka")
		}
	case "sqs":
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when CLINICSYNC_EVENTS_DRIVER=sqs")
		}
	default:
		return fmt.Errorf("CLINICSYNC_EVENTS_DRIVER must be none, kafka or sqs, got %q", c.EventsDriver)
	}
	if c.KeepCount < 1 {
		return fmt.Errorf("KEEP_COUNT must be at least 1")
	}
	return nil
}

// StoreDSNOrDefault returns the configured DSN, defaulting the sqlite file into the data dir.
func (c *Config) StoreDSNOrDefault() string {
	if c.StoreDSN != "" {
		return c.StoreDSN
	}
	if c.StoreDriver == "sqlite" {
		return filepath.Join(c.DataDir, "store", "clinicsync.db")
	}
	return ""
}

// StatusPath is the SyncStatus file under the data dir.
func (c *Config) StatusPath() string {
	return filepath.Join(c.DataDir, "sync", "status", "last_sync.json")
}

// LogsDir is where per-run reports are written.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "sync", "logs")
}

// MetricsPath is the Prometheus textfile written after each run.
func (c *Config) MetricsPath() string {
	return filepath.Join(c.DataDir, "sync", "metrics", "clinicsync.prom")
}

// DownloadDir is the scratch directory the browser downloads into.
func (c *Config) DownloadDir() string {
	return filepath.Join(c.DataDir, "tmp", "downloads")
}
