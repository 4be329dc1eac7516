package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields across the config (cooldowns, the confirm timeout, poll
// and busy timeouts) are Go duration strings so operators write "90s" or
// "5m" instead of counting milliseconds. An empty string means "unset" and
// parses to zero; the caller decides whether zero means disabled or falls
// back to a default.

// ParseDurationField parses a duration string from the config. path names
// the field in error messages ("ads.confirm_timeout"). Negative durations
// are rejected: no cooldown or timeout in this config may run backwards.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for unset
// fields, used where the bot has an opinionated default (the 5m cooldown,
// the 60s confirm window).
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
