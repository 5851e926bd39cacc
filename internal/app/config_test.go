package app

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected GRPCAddr :50051, got %s", cfg.GRPCAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.RedisAddr != "" || cfg.KafkaBrokers != "" {
		t.Error("expected optional backends to be disabled by default")
	}
	if cfg.OutboxPollInterval <= 0 || cfg.OutboxBatchSize <= 0 || cfg.OutboxMaxAttempts <= 0 {
		t.Errorf("unexpected outbox defaults: %+v", cfg)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("expected IdempotencyTTL 24h, got %s", cfg.IdempotencyTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "postgres with dsn",
			mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres; c.PostgresDSN = "postgres://localhost/checkout" },
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: "postgres dsn is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.StorageDriver = "sqlite" },
			wantErr: "unsupported storage driver",
		},
		{
			name:    "empty grpc addr",
			mutate:  func(c *Config) { c.GRPCAddr = " " },
			wantErr: "grpc address is required",
		},
		{
			name:    "zero outbox batch",
			mutate:  func(c *Config) { c.OutboxBatchSize = 0 },
			wantErr: "outbox batch size",
		},
		{
			name:    "breaker without reset",
			mutate:  func(c *Config) { c.OutboxBreakerReset = 0 },
			wantErr: "outbox breaker reset",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.OutboxPollInterval = 0 },
			wantErr: "outbox poll interval",
		},
		{
			name:    "negative retry delay",
			mutate:  func(c *Config) { c.OutboxRetryDelay = -time.Millisecond },
			wantErr: "outbox retry delay",
		},
		{
			name:   "zero retry delay allowed",
			mutate: func(c *Config) { c.OutboxRetryDelay = 0 },
		},
		{
			name:    "negative breaker failures",
			mutate:  func(c *Config) { c.OutboxBreakerFailures = -1 },
			wantErr: "outbox breaker failures",
		},
		{
			name:    "zero customer cache ttl",
			mutate:  func(c *Config) { c.CustomerCacheTTL = 0 },
			wantErr: "customer cache ttl",
		},
		{
			name:    "zero idempotency ttl",
			mutate:  func(c *Config) { c.IdempotencyTTL = 0 },
			wantErr: "idempotency ttl",
		},
		{
			name:    "zero idempotency cleanup interval",
			mutate:  func(c *Config) { c.IdempotencyCleanupInterval = 0 },
			wantErr: "idempotency cleanup interval",
		},
		{
			name: "disabled breaker ignores reset",
			mutate: func(c *Config) {
				c.OutboxBreakerFailures = 0
				c.OutboxBreakerReset = 0
			},
		},
		{
			name: "several problems reported together",
			mutate: func(c *Config) {
				c.StorageDriver = "sqlite"
				c.OutboxMaxAttempts = 0
			},
			wantErr: "outbox max attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_Brokers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "broker1:9092", want: []string{"broker1:9092"}},
		{raw: "broker1:9092, broker2:9092,,", want: []string{"broker1:9092", "broker2:9092"}},
	}

	for _, tt := range tests {
		got := Config{KafkaBrokers: tt.raw}.Brokers()
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("Brokers(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestConfig_Comparison(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg2 := DefaultConfig()

	if cfg1 != cfg2 {
		t.Error("two DefaultConfig instances should be equal")
	}

	cfg2.GRPCAddr = ":8080"
	if cfg1 == cfg2 {
		t.Error("modified config should not be equal to original")
	}
}
