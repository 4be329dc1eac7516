package config

// Config is adbot's root configuration.
//
// Files may be YAML or JSON; both are decoded strictly (unknown fields are
// rejected) so typos fail loudly instead of being silently ignored.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Broadcast   BroadcastConfig   `json:"broadcast"`
	Ads         AdsConfig         `json:"ads"`
	Moderation  ModerationConfig  `json:"moderation"`
	Permissions PermissionsConfig `json:"permissions"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id used for the Telegram log sink (optional).
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the SQLite persistence layer.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// QueueSize bounds the write-behind queue for cooldown saves.
	QueueSize int `json:"queue_size,omitempty"`
	// FlushSchedule is a cron spec (e.g. "@every 5m") for the periodic
	// safety flush of the in-memory cooldown cache. Empty disables it.
	FlushSchedule string `json:"flush_schedule,omitempty"`
}

// BroadcastConfig lists the chats a confirmed ad is delivered to.
type BroadcastConfig struct {
	Chats []int64 `json:"chats"`
	// Prefix is prepended to every broadcast ad (e.g. "📣 Ad:").
	Prefix string `json:"prefix,omitempty"`
}

// AdsConfig controls the submission/confirmation flow and cooldowns.
//
// RankCooldowns maps a rank name to a duration string; a user qualifies for
// a rank when they hold the "ads.cooldown.<rank>" capability. The shortest
// qualifying duration wins.
type AdsConfig struct {
	DefaultCooldown string            `json:"default_cooldown"`
	RankCooldowns   map[string]string `json:"rank_cooldowns,omitempty"`
	ConfirmTimeout  string            `json:"confirm_timeout,omitempty"`
	// CountdownUpdates bounds how many live countdown edits an on-cooldown
	// reply receives before going quiet. 0 disables the countdown.
	CountdownUpdates int `json:"countdown_updates,omitempty"`
}

type ModerationConfig struct {
	RequireReview bool     `json:"require_review"`
	MinLength     int      `json:"min_length,omitempty"`
	MaxLength     int      `json:"max_length,omitempty"`
	BlockedWords  []string `json:"blocked_words,omitempty"`
}

// PermissionsConfig assigns capabilities to users.
//
// Everyone lists capabilities granted to all users. Users maps a Telegram
// user id (as a string key, JSON maps require string keys) to extra
// capabilities. Owner ids from the telegram section implicitly hold every
// capability.
type PermissionsConfig struct {
	Everyone []string            `json:"everyone,omitempty"`
	Users    map[string][]string `json:"users,omitempty"`
}
