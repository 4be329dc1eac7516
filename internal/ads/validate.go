package ads

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validate checks an ad text against the moderation limits. It returns an
// empty string when the text is acceptable, otherwise a human-readable
// rejection reason. Length limits of zero are not enforced; blocked words
// match case-insensitively anywhere in the text.
func Validate(text string, minLen, maxLen int, blocked []string) string {
	t := strings.TrimSpace(text)
	n := utf8.RuneCountInString(t)
	if n == 0 {
		return "the ad text is empty"
	}
	if minLen > 0 && n < minLen {
		return fmt.Sprintf("too short: at least %d characters required", minLen)
	}
	if maxLen > 0 && n > maxLen {
		return fmt.Sprintf("too long: at most %d characters allowed", maxLen)
	}

	lower := strings.ToLower(t)
	for _, w := range blocked {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if strings.Contains(lower, w) {
			return fmt.Sprintf("contains a blocked word (%q)", w)
		}
	}
	return ""
}
