package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CATALOG_DB_DATABASE", "catalog")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected config to load with defaults, got error: %v", err)
	}

	if cfg.DB.Connection != "mysql" {
		t.Errorf("expected default mysql connection, got '%s'", cfg.DB.Connection)
	}
	if cfg.DB.Database != "catalog" {
		t.Errorf("expected database from env, got '%s'", cfg.DB.Database)
	}
	if cfg.Stream.ItemsPollInterval != 5*time.Second {
		t.Errorf("expected items poll interval 5s, got %s", cfg.Stream.ItemsPollInterval)
	}
	if cfg.Stream.OrdersPollInterval != 3*time.Second {
		t.Errorf("expected orders poll interval 3s, got %s", cfg.Stream.OrdersPollInterval)
	}
	if cfg.Stream.QueueCapacity != 100 {
		t.Errorf("expected queue capacity 100, got %d", cfg.Stream.QueueCapacity)
	}
	if cfg.Stream.MaxLifetime != 300*time.Second || cfg.Stream.WarningAfter != 240*time.Second {
		t.Errorf("unexpected lifetime policy: %s / %s", cfg.Stream.MaxLifetime, cfg.Stream.WarningAfter)
	}
	if cfg.Stream.Countdown != 60 {
		t.Errorf("expected countdown 60, got %d", cfg.Stream.Countdown)
	}
	if cfg.Auth.TokenValidity != 5*time.Minute {
		t.Errorf("expected token validity 5m, got %s", cfg.Auth.TokenValidity)
	}
}

func TestLoadFromFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "database.sqlite")
	path := filepath.Join(t.TempDir(), "config.yml")
	content := strings.Join([]string{
		"debug: true",
		"app:",
		"  port: \"9000\"",
		"  timezone: Asia/Tokyo",
		"db:",
		"  connection: sqlite",
		"  database: " + dbPath,
		"stream:",
		"  orders_poll_interval: 750ms",
		"  countdown: 10",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Debug {
		t.Error("expected debug to be enabled")
	}
	if cfg.App.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.App.Port)
	}
	if cfg.DB.Database != dbPath {
		t.Errorf("expected sqlite path %s, got %s", dbPath, cfg.DB.Database)
	}
	if cfg.Stream.OrdersPollInterval != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", cfg.Stream.OrdersPollInterval)
	}
	if cfg.Stream.Countdown != 10 {
		t.Errorf("expected countdown 10, got %d", cfg.Stream.Countdown)
	}
	if cfg.Location().String() != "Asia/Tokyo" {
		t.Errorf("expected Asia/Tokyo location, got %s", cfg.Location())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CATALOG_DB_DATABASE", "catalog")
	t.Setenv("CATALOG_STREAM_QUEUE_CAPACITY", "7")
	t.Setenv("CATALOG_STREAM_ITEMS_POLL_INTERVAL", "2s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.QueueCapacity != 7 {
		t.Errorf("expected queue capacity 7, got %d", cfg.Stream.QueueCapacity)
	}
	if cfg.Stream.ItemsPollInterval != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.Stream.ItemsPollInterval)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App: AppConfig{Timezone: "UTC"},
			DB:  DBConfig{Connection: "mysql", Database: "catalog"},
			Stream: StreamConfig{
				ItemsPollInterval:  5 * time.Second,
				OrdersPollInterval: 3 * time.Second,
				QueueCapacity:      100,
				MaxLifetime:        300 * time.Second,
				WarningAfter:       240 * time.Second,
				Countdown:          60,
				CountdownTick:      time.Second,
				PollTimeout:        100 * time.Millisecond,
				GzipLevel:          -1,
			},
			Auth: AuthConfig{TokenValidity: 5 * time.Minute, SweepInterval: 300 * time.Second},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}

	// A countdown ending exactly at max_lifetime is allowed.
	exact := valid()
	exact.Stream.WarningAfter = 290 * time.Second
	exact.Stream.Countdown = 10
	if err := exact.Validate(); err != nil {
		t.Fatalf("expected countdown ending at max_lifetime to be valid, got: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown connection", func(c *Config) { c.DB.Connection = "postgres" }, "invalid db.connection"},
		{"relative sqlite path", func(c *Config) { c.DB.Connection = "sqlite"; c.DB.Database = "db.sqlite" }, "must be absolute"},
		{"zero capacity", func(c *Config) { c.Stream.QueueCapacity = 0 }, "queue_capacity"},
		{"warning after lifetime", func(c *Config) { c.Stream.WarningAfter = 400 * time.Second }, "warning_after"},
		{"zero countdown", func(c *Config) { c.Stream.Countdown = 0 }, "countdown"},
		{"countdown outlives lifetime", func(c *Config) { c.Stream.Countdown = 61 }, "exceeds stream.max_lifetime"},
		{"slow countdown tick", func(c *Config) { c.Stream.CountdownTick = 2 * time.Second }, "exceeds stream.max_lifetime"},
		{"bad timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }, "app.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}
