package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REDDIT_CLIENT_ID", "id")
	t.Setenv("REDDIT_CLIENT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if diff := cmp.Diff([]string{"machine learning", "mlops"}, cfg.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
	if cfg.DatabasePath != "./data/watcher.db" {
		t.Errorf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.ControlAddr != "127.0.0.1:8787" || cfg.APIAddr != "127.0.0.1:8080" {
		t.Errorf("unexpected addrs: control=%q api=%q", cfg.ControlAddr, cfg.APIAddr)
	}
	if cfg.RefreshInterval != time.Minute {
		t.Errorf("unexpected refresh interval %v", cfg.RefreshInterval)
	}
	if cfg.AllowNSFW {
		t.Error("nsfw must be off by default")
	}
	if cfg.DirectPost() {
		t.Error("direct post requires bot token and channel id")
	}
}

func TestLoadRequiresRedditCredentials(t *testing.T) {
	t.Setenv("REDDIT_CLIENT_ID", "")
	t.Setenv("REDDIT_CLIENT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without reddit credentials")
	}
}

func TestLoadBotTokenNeedsChannel(t *testing.T) {
	setRequired(t)
	t.Setenv("DISCORD_BOT_TOKEN", "tok")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when bot token is set without a channel id")
	}
}

func TestLoadParsesLists(t *testing.T) {
	setRequired(t)
	t.Setenv("KEYWORDS", " python , golang ,,mlops ")
	t.Setenv("INCLUDE_SUBS", "golang,learnpython")
	t.Setenv("EXCLUDE_SUBS", "spam")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if diff := cmp.Diff([]string{"python", "golang", "mlops"}, cfg.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"golang", "learnpython"}, cfg.IncludeSubs); diff != "" {
		t.Errorf("include subs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"spam"}, cfg.ExcludeSubs); diff != "" {
		t.Errorf("exclude subs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRefreshInterval(t *testing.T) {
	setRequired(t)

	t.Setenv("REFRESH_INTERVAL", "30s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RefreshInterval != 30*time.Second {
		t.Errorf("unexpected interval %v", cfg.RefreshInterval)
	}

	t.Setenv("REFRESH_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDirectPost(t *testing.T) {
	setRequired(t)
	t.Setenv("DISCORD_BOT_TOKEN", "tok")
	t.Setenv("DISCORD_CHANNEL_ID", "chan")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DirectPost() {
		t.Error("expected direct post mode")
	}
}
