// Package config loads the server configuration from a YAML file with
// environment variable overrides on top, so containerized deployments can
// run without a config file at all.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the Bot API credentials for the telegram
// notification channel. An empty token disables the channel.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// Config is the top-level server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// BaseURI is the path prefix the CalDAV tree is mounted under.
	BaseURI string `yaml:"base_uri"`

	// Realm is the HTTP Basic authentication realm.
	Realm string `yaml:"realm"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// Timezone is the IANA zone the scheduler's cron jobs run in.
	Timezone string `yaml:"timezone"`

	// MorningTime is the HH:MM wall clock of the daily digest.
	MorningTime string `yaml:"morning_time"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Telegram TelegramConfig `yaml:"telegram"`
}

// Load reads the YAML file at path when it exists, applies environment
// overrides and fills defaults. A missing file is not an error; an empty
// path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Environment and defaults carry the config.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Listen, "TASKDAV_LISTEN")
	setFromEnv(&c.BaseURI, "TASKDAV_BASE_URI")
	setFromEnv(&c.Realm, "TASKDAV_REALM")
	setFromEnv(&c.DatabasePath, "TASKDAV_DATABASE_PATH")
	setFromEnv(&c.Timezone, "TASKDAV_TIMEZONE")
	setFromEnv(&c.MorningTime, "TASKDAV_MORNING_TIME")
	setFromEnv(&c.LogLevel, "TASKDAV_LOG_LEVEL")
	setFromEnv(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.BaseURI == "" {
		c.BaseURI = "/dav/"
	}
	// The base URI doubles as the mux pattern, which needs the trailing
	// slash to match the whole subtree.
	if !strings.HasPrefix(c.BaseURI, "/") {
		c.BaseURI = "/" + c.BaseURI
	}
	if !strings.HasSuffix(c.BaseURI, "/") {
		c.BaseURI = c.BaseURI + "/"
	}
	if c.Realm == "" {
		c.Realm = "taskdav"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "./data/taskdav.db"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.MorningTime == "" {
		c.MorningTime = "08:00"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
