// Package cooldown enforces the per-actor broadcast cooldown.
//
// The in-memory cache is authoritative for the life of the process; the
// SQLite table behind it is read on cache miss and updated by a write-behind
// queue so a slow disk never delays the interactive flow. Effective
// durations come from a rank table (capability -> duration) where the
// shortest qualifying duration wins.
package cooldown
