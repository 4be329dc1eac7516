package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAMLStrict(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "t"
  owner_user_ids: [42]
logging:
  level: DEBUG
  console: true
storage:
  path: ./test.db
  flush_schedule: "@every 5m"
broadcast:
  chats: [-100]
ads:
  default_cooldown: "5m"
  rank_cooldowns:
    vip: "2m"
  confirm_timeout: "60s"
moderation:
  require_review: false
  min_length: 10
  max_length: 150
permissions:
  everyone: ["ads.use"]
  users:
    "42": ["ads.bypass"]
`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Ads.RankCooldowns["vip"] != "2m" {
		t.Fatalf("rank_cooldowns = %v", cfg.Ads.RankCooldowns)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "t"
  tokenn: "typo"
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestValidateCatchesBadDurations(t *testing.T) {
	cfg := &Config{}
	cfg.Ads.DefaultCooldown = "five minutes"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duration error")
	}

	cfg = &Config{}
	cfg.Ads.RankCooldowns = map[string]string{"vip": "-2m"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative duration error")
	}
}

func TestValidateCatchesBadUserKeys(t *testing.T) {
	cfg := &Config{}
	cfg.Permissions.Users = map[string][]string{"not-a-number": {"ads.use"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected user id error")
	}
}

func TestValidateLengthBounds(t *testing.T) {
	cfg := &Config{}
	cfg.Moderation.MinLength = 200
	cfg.Moderation.MaxLength = 100
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected min>max error")
	}
}
