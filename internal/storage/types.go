package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// ReviewItem is an ad waiting for manual approval.
type ReviewItem struct {
	ID          int64
	SubmitterID int64
	Message     string
	SubmittedAt time.Time
}

// Store is the persistence API used by the cooldown store and the ads
// coordinator.
type Store interface {
	// LoadCooldown returns the actor's last confirmed broadcast time in epoch
	// milliseconds. ok is false when the actor has no record.
	LoadCooldown(ctx context.Context, actorID int64) (lastMilli int64, ok bool, err error)

	// SaveCooldown upserts the actor's last broadcast time. A second save for
	// the same actor overwrites, never duplicates.
	SaveCooldown(ctx context.Context, actorID int64, lastMilli int64) error

	EnqueueReview(ctx context.Context, item ReviewItem) error
	PendingReviews(ctx context.Context, limit int) ([]ReviewItem, error)

	// ResolveReview removes a queued item and returns it. ok is false when no
	// item with that id exists (already resolved by another reviewer).
	ResolveReview(ctx context.Context, id int64) (item ReviewItem, ok bool, err error)

	Close() error
}
