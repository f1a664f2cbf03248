package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load config: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Expected 25 max open conns, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Notify.Timeout != 30*time.Second {
		t.Errorf("Expected notify timeout 30s, got %s", cfg.Notify.Timeout)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("Expected no kafka brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "7")
	t.Setenv("NOTIFY_TIMEOUT", "2s")
	t.Setenv("NOTIFY_MAX_RETRIES", "5")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load config: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Database.MaxOpenConns != 7 {
		t.Errorf("Expected 7 max open conns, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Notify.Timeout != 2*time.Second {
		t.Errorf("Expected notify timeout 2s, got %s", cfg.Notify.Timeout)
	}
	if cfg.Notify.MaxRetries != 5 {
		t.Errorf("Expected 5 retries, got %d", cfg.Notify.MaxRetries)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Expected insecure OTLP exporter")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "many")
	t.Setenv("SERVER_READ_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load config: %v", err)
	}
	if cfg.Database.MaxIdleConns != 5 {
		t.Errorf("Expected fallback idle conns 5, got %d", cfg.Database.MaxIdleConns)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Expected fallback read timeout, got %s", cfg.Server.ReadTimeout)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error without JWT_SECRET")
	}
}

func TestLoadDatabaseWithoutJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "postgres://migrator@db:5432/cosmomed")
	t.Setenv("LOG_FORMAT", "console")

	db, logCfg, err := LoadDatabase()
	if err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}
	if db.URL != "postgres://migrator@db:5432/cosmomed" {
		t.Errorf("Expected DATABASE_URL override, got %s", db.URL)
	}
	if logCfg.Format != "console" {
		t.Errorf("Expected console log format, got %s", logCfg.Format)
	}
}
