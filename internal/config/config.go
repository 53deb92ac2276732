// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	// Upstream (Reddit) credentials.
	RedditClientID     string
	RedditClientSecret string
	RedditUserAgent    string

	// Bootstrap rules seeded from the environment. Keywords listed here
	// are merged into every rule snapshot (see internal/rules).
	Keywords    []string
	IncludeSubs []string
	ExcludeSubs []string
	AllowNSFW   bool

	// Messaging target. A bot token + channel id selects direct-post
	// mode; a webhook URL alone selects fire-and-forget mode.
	DiscordBotToken  string
	DiscordChannelID string
	DiscordWebhook   string

	DatabasePath    string
	LogLevel        string
	ControlAddr     string
	APIAddr         string
	APIBasicUser    string
	APIBasicPass    string
	APICORSOrigins  []string
	RefreshInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		RedditClientID:     os.Getenv("REDDIT_CLIENT_ID"),
		RedditClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
		RedditUserAgent:    envOrDefault("REDDIT_USER_AGENT", "reddit_watcher/1.0"),
		Keywords:           splitList(envOrDefault("KEYWORDS", "machine learning,mlops")),
		IncludeSubs:        splitList(os.Getenv("INCLUDE_SUBS")),
		ExcludeSubs:        splitList(os.Getenv("EXCLUDE_SUBS")),
		AllowNSFW:          os.Getenv("ALLOW_NSFW") == "1",
		DiscordBotToken:    os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordChannelID:   os.Getenv("DISCORD_CHANNEL_ID"),
		DiscordWebhook:     os.Getenv("DISCORD_WEBHOOK"),
		DatabasePath:       envOrDefault("DATABASE_PATH", "./data/watcher.db"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		ControlAddr:        envOrDefault("CONTROL_ADDR", "127.0.0.1:8787"),
		APIAddr:            envOrDefault("API_ADDR", "127.0.0.1:8080"),
		APIBasicUser:       strings.TrimSpace(os.Getenv("API_BASIC_USER")),
		APIBasicPass:       strings.TrimSpace(os.Getenv("API_BASIC_PASS")),
		APICORSOrigins:     splitList(os.Getenv("API_CORS_ORIGINS")),
		RefreshInterval:    time.Minute,
	}

	if cfg.RedditClientID == "" || cfg.RedditClientSecret == "" {
		return nil, fmt.Errorf("REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET are required")
	}
	if cfg.DiscordBotToken != "" && cfg.DiscordChannelID == "" {
		return nil, fmt.Errorf("DISCORD_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}

	if raw := os.Getenv("REFRESH_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REFRESH_INTERVAL %q: %w", raw, err)
		}
		cfg.RefreshInterval = d
	}

	return cfg, nil
}

// DirectPost reports whether the bot session delivery mode is configured.
// Without it the watcher falls back to the one-way webhook.
func (c *Config) DirectPost() bool {
	return c.DiscordBotToken != "" && c.DiscordChannelID != ""
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
