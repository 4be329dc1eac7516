package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Validate checks the parts of the config that would otherwise fail late at
// runtime (duration strings, id keys, length bounds). Token presence is only
// checked at startup, not on reload, so a redacted reload can't kill the bot.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("ads.default_cooldown", c.Ads.DefaultCooldown); err != nil {
		return err
	}
	if _, err := ParseDurationField("ads.confirm_timeout", c.Ads.ConfirmTimeout); err != nil {
		return err
	}
	for rank, raw := range c.Ads.RankCooldowns {
		if strings.TrimSpace(rank) == "" {
			return fmt.Errorf("ads.rank_cooldowns: empty rank name")
		}
		if _, err := ParseDurationField("ads.rank_cooldowns."+rank, raw); err != nil {
			return err
		}
	}

	if c.Moderation.MinLength < 0 || c.Moderation.MaxLength < 0 {
		return fmt.Errorf("moderation: lengths must be >= 0")
	}
	if c.Moderation.MaxLength > 0 && c.Moderation.MinLength > c.Moderation.MaxLength {
		return fmt.Errorf("moderation: min_length %d > max_length %d", c.Moderation.MinLength, c.Moderation.MaxLength)
	}

	for key := range c.Permissions.Users {
		if _, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64); err != nil {
			return fmt.Errorf("permissions.users: %q is not a user id: %w", key, err)
		}
	}

	if c.Storage.QueueSize < 0 {
		return fmt.Errorf("storage.queue_size must be >= 0")
	}
	return nil
}
