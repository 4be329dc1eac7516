package ads

import (
	"fmt"
	"strings"
)

// FormatSeconds renders a second count as a compact "2d 3h 4m 5s" string,
// omitting zero units. Zero or negative input renders as "0s".
func FormatSeconds(total int64) string {
	if total <= 0 {
		return "0s"
	}
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}
