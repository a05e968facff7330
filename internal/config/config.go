// Package config handles application configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	configPathEnv    = "CONTENT_RADAR_CONFIG"
	listenAddrEnv    = "LISTEN_ADDR"
	databasePathEnv  = "DATABASE_PATH"
	logLevelEnv      = "LOG_LEVEL"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr   string         `yaml:"listenAddr"`
	DatabasePath string         `yaml:"databasePath"`
	LogLevel     string         `yaml:"logLevel"`
	Crawl        CrawlDefaults  `yaml:"crawl"`
	Telegram     TelegramConfig `yaml:"telegram"`
	RSSFeeds     []RSSFeed      `yaml:"rssFeeds"`
}

// CrawlDefaults tunes the orchestrator when a crawl request leaves the
// knobs unset.
type CrawlDefaults struct {
	MaxConcurrency int     `yaml:"maxConcurrency"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	MaxAttempts    int     `yaml:"maxAttempts"`
	MinQuality     float64 `yaml:"minQuality"`
	DedupThreshold float64 `yaml:"dedupThreshold"`
}

// Timeout returns the per-attempt adapter timeout.
func (c CrawlDefaults) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TelegramConfig wires optional crawl-completion notifications. Disabled
// when the token is empty.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   int64  `yaml:"chatId"`
}

// RSSFeed registers one RSS source adapter.
type RSSFeed struct {
	ID   string `yaml:"id"`
	Tier string `yaml:"tier"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration (if CONTENT_RADAR_CONFIG points at a file)
// and applies environment overrides on top of built-in defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(listenAddrEnv); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(databasePathEnv); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatEnv); v != "" {
		var chatID int64
		if _, err := fmt.Sscanf(v, "%d", &chatID); err == nil {
			c.Telegram.ChatID = chatID
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr:   ":8080",
		DatabasePath: "./data/content_radar.db",
		LogLevel:     "info",
		Crawl: CrawlDefaults{
			MaxConcurrency: 5,
			TimeoutSeconds: 30,
			MaxAttempts:    3,
			MinQuality:     0.3,
			DedupThreshold: 0.8,
		},
		RSSFeeds: []RSSFeed{
			{ID: "devnews", Tier: "curated", URL: "https://news.example.org/rss?q=%s"},
		},
	}
}
