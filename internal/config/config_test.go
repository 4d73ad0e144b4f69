package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper(t *testing.T, values map[string]any) *viper.Viper {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(newViper(t, nil))
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.DataDir != "data" || cfg.StoreDriver != "sqlite" || cfg.BlobDriver != "fs" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LoginTimeout != 20*time.Second || cfg.TwoFactorTimeout != 2*time.Minute || cfg.DownloadTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg)
	}
	if cfg.RunSoftCap != 30*time.Minute || cfg.BatchTimeout != 10*time.Second {
		t.Fatalf("unexpected caps %+v", cfg)
	}
	if !strings.HasSuffix(cfg.StatusPath(), "sync/status/last_sync.json") {
		t.Fatalf("status path %s", cfg.StatusPath())
	}
	if !strings.HasSuffix(cfg.StoreDSNOrDefault(), "store/clinicsync.db") {
		t.Fatalf("sqlite dsn %s", cfg.StoreDSNOrDefault())
	}
}

func TestValidateDriverCompanions(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]any
		want   string
	}{
		{"s3 without bucket", map[string]any{"CLINICSYNC_BLOB_DRIVER": "s3"}, "CLINICSYNC_BLOB_S3_BUCKET"},
		{"postgres without dsn", map[string]any{"CLINICSYNC_STORE_DRIVER": "postgres"}, "CLINICSYNC_STORE_DSN"},
		{"firestore without project", map[string]any{"CLINICSYNC_STORE_DRIVER": "firestore"}, "FIRESTORE_PROJECT_ID"},
		{"redis lock without url", map[string]any{"CLINICSYNC_LOCK_DRIVER": "redis"}, "REDIS_URL"},
		{"kafka without brokers", map[string]any{"CLINICSYNC_EVENTS_DRIVER": "kafka"}, "KAFKA_BROKERS"},
		{"sqs without queue", map[string]any{"CLINICSYNC_EVENTS_DRIVER": "sqs"}, "SQS_QUEUE_URL"},
		{"unknown store", map[string]any{"CLINICSYNC_STORE_DRIVER": "mongo"}, "CLINICSYNC_STORE_DRIVER"},
		{"keep count", map[string]any{"KEEP_COUNT": 0}, "KEEP_COUNT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromViper(newViper(t, tc.values))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestKafkaBrokersCommaSeparated(t *testing.T) {
	cfg, err := FromViper(newViper(t, map[string]any{
		"CLINICSYNC_EVENTS_DRIVER": "kafka",
		"KAFKA_BROKERS":            "k1:9092,k2:9092",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers %v", cfg.KafkaBrokers)
	}
}
