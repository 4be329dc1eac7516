package app

import (
	"strconv"
	"strings"
	"time"

	"adbot/internal/ads"
	"adbot/internal/config"
	"adbot/internal/cooldown"
	"adbot/internal/perm"
	logx "adbot/pkg/logx"
)

const (
	defaultCooldown      = 300 * time.Second
	defaultConfirmWindow = 60 * time.Second
	defaultPollTimeout   = 10 * time.Second
)

func buildLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func buildTable(cfg *config.Config) *perm.Table {
	return perm.NewTable(cfg.Telegram.OwnerUserIDs, cfg.Permissions.Everyone, cfg.Permissions.Users)
}

func buildRules(cfg *config.Config) (*cooldown.Rules, error) {
	def, err := config.ParseDurationOrDefault("ads.default_cooldown", cfg.Ads.DefaultCooldown, defaultCooldown)
	if err != nil {
		return nil, err
	}
	ranks := make(map[string]time.Duration, len(cfg.Ads.RankCooldowns))
	for name, raw := range cfg.Ads.RankCooldowns {
		d, err := config.ParseDurationField("ads.rank_cooldowns."+name, raw)
		if err != nil {
			return nil, err
		}
		ranks[name] = d
	}
	return cooldown.NewRules(def, ads.CapBypass, ranks, ads.RankCapPrefix), nil
}

func buildSettings(cfg *config.Config) (*ads.Settings, error) {
	confirm, err := config.ParseDurationOrDefault("ads.confirm_timeout", cfg.Ads.ConfirmTimeout, defaultConfirmWindow)
	if err != nil {
		return nil, err
	}
	return &ads.Settings{
		ConfirmTimeout:   confirm,
		RequireReview:    cfg.Moderation.RequireReview,
		MinLength:        cfg.Moderation.MinLength,
		MaxLength:        cfg.Moderation.MaxLength,
		BlockedWords:     cfg.Moderation.BlockedWords,
		BroadcastChats:   cfg.Broadcast.Chats,
		Prefix:           cfg.Broadcast.Prefix,
		NotifyChat:       logChatID(cfg.Telegram.GroupLog),
		CountdownUpdates: cfg.Ads.CountdownUpdates,
	}, nil
}

// logChatID parses the group_log chat id; 0 when unset or malformed.
func logChatID(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
