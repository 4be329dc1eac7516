// Package storage is adbot's persistence layer.
//
// It owns two tables:
//   - ad_cooldowns: one row per actor, the wall-clock time of their last
//     confirmed broadcast (epoch milliseconds)
//   - ad_review_queue: ads held for manual review
//
// Writes are upserts; the cooldown cache above this layer is authoritative
// for the life of the process, so a failed save is logged by the caller and
// retried by the periodic flush.
package storage
