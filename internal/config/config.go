package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	Debug   bool          `mapstructure:"debug"`
	App     AppConfig     `mapstructure:"app"`
	DB      DBConfig      `mapstructure:"db"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type AppConfig struct {
	Port     string `mapstructure:"port"`
	URL      string `mapstructure:"url"`
	Timezone string `mapstructure:"timezone"`
}

type DBConfig struct {
	Connection      string        `mapstructure:"connection"` // "mysql" or "sqlite"
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type StreamConfig struct {
	ItemsPollInterval  time.Duration `mapstructure:"items_poll_interval"`
	OrdersPollInterval time.Duration `mapstructure:"orders_poll_interval"`
	QueueCapacity      int           `mapstructure:"queue_capacity"`
	MaxLifetime        time.Duration `mapstructure:"max_lifetime"`
	WarningAfter       time.Duration `mapstructure:"warning_after"`
	Countdown          int           `mapstructure:"countdown"`
	CountdownTick      time.Duration `mapstructure:"countdown_tick"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout"`
	GzipLevel          int           `mapstructure:"gzip_level"`
}

type AuthConfig struct {
	TokenValidity time.Duration `mapstructure:"token_validity"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type NotifyConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
	RatePerMinute     int    `mapstructure:"rate_per_minute"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.url", "")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("db.connection", "mysql")
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", "3306")
	v.SetDefault("db.database", "")
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 3*time.Minute)
	v.SetDefault("stream.items_poll_interval", 5*time.Second)
	v.SetDefault("stream.orders_poll_interval", 3*time.Second)
	v.SetDefault("stream.queue_capacity", 100)
	v.SetDefault("stream.max_lifetime", 300*time.Second)
	v.SetDefault("stream.warning_after", 240*time.Second)
	v.SetDefault("stream.countdown", 60)
	v.SetDefault("stream.countdown_tick", time.Second)
	v.SetDefault("stream.poll_timeout", 100*time.Millisecond)
	v.SetDefault("stream.gzip_level", -1)
	v.SetDefault("auth.token_validity", 5*time.Minute)
	v.SetDefault("auth.sweep_interval", 300*time.Second)
	v.SetDefault("notify.discord_webhook_url", "")
	v.SetDefault("notify.rate_per_minute", 6)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)

	// Environment variable support
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.DB.Connection == "sqlite" && cfg.DB.Database == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.DB.Database = filepath.Join(home, "database", "database.sqlite")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Connection {
	case "mysql":
		if c.DB.Database == "" {
			return fmt.Errorf("db.database is required for mysql (set CATALOG_DB_DATABASE env var)")
		}
	case "sqlite":
		if !filepath.IsAbs(c.DB.Database) {
			return fmt.Errorf("sqlite database path must be absolute: %s", c.DB.Database)
		}
	default:
		return fmt.Errorf("invalid db.connection: %s (must be 'mysql' or 'sqlite')", c.DB.Connection)
	}

	s := c.Stream
	if s.ItemsPollInterval <= 0 || s.OrdersPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be > 0")
	}
	if s.QueueCapacity < 1 {
		return fmt.Errorf("stream.queue_capacity must be >= 1")
	}
	if s.WarningAfter <= 0 || s.WarningAfter >= s.MaxLifetime {
		return fmt.Errorf("stream.warning_after must be > 0 and < stream.max_lifetime")
	}
	if s.Countdown < 1 {
		return fmt.Errorf("stream.countdown must be >= 1")
	}
	if s.CountdownTick <= 0 || s.PollTimeout <= 0 {
		return fmt.Errorf("stream.countdown_tick and stream.poll_timeout must be > 0")
	}
	if countdown := time.Duration(s.Countdown) * s.CountdownTick; s.WarningAfter+countdown > s.MaxLifetime {
		return fmt.Errorf("stream.warning_after + stream.countdown * stream.countdown_tick (%s) exceeds stream.max_lifetime (%s)",
			s.WarningAfter+countdown, s.MaxLifetime)
	}
	if s.GzipLevel < -2 || s.GzipLevel > 9 {
		return fmt.Errorf("stream.gzip_level must be between -2 and 9")
	}

	if c.Auth.TokenValidity <= 0 || c.Auth.SweepInterval <= 0 {
		return fmt.Errorf("auth.token_validity and auth.sweep_interval must be > 0")
	}

	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("invalid app.timezone %q: %w", c.App.Timezone, err)
	}

	return nil
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
