// Package pending tracks at most one unconfirmed ad submission per actor.
//
// Admission is an atomic check-and-insert; confirm, cancel, and timeout
// expiry race for the same entry and exactly one of them wins. Timers are
// tied to the entry they were armed for, so a timer surviving past its
// entry's removal is a harmless no-op even when it fires for an actor who
// has since admitted a new draft.
package pending

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyPending = errors.New("a submission is already awaiting confirmation")
	ErrNoPending      = errors.New("no submission awaiting confirmation")
)

// Submission is a draft ad awaiting explicit confirmation.
type Submission struct {
	Actor     int64
	Payload   string
	CreatedAt time.Time
}

type entry struct {
	sub Submission

	mu    sync.Mutex
	timer *time.Timer
}

// Registry holds pending submissions keyed by actor. The zero value is not
// usable; call NewRegistry.
type Registry struct {
	entries sync.Map // int64 -> *entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Admit inserts a pending submission for the actor. It fails with
// ErrAlreadyPending if one already exists; the check-and-insert is atomic,
// so no two concurrent admissions for the same actor both succeed.
func (r *Registry) Admit(actor int64, payload string, now time.Time) error {
	e := &entry{sub: Submission{Actor: actor, Payload: payload, CreatedAt: now}}
	if _, loaded := r.entries.LoadOrStore(actor, e); loaded {
		return ErrAlreadyPending
	}
	return nil
}

// ArmTimeout schedules onExpire to run after d unless the entry is confirmed
// or cancelled first. Expiry removes the entry only if it is still the same
// one the timer was armed for; a stale timer never touches a newer draft.
func (r *Registry) ArmTimeout(actor int64, d time.Duration, onExpire func(Submission)) {
	v, ok := r.entries.Load(actor)
	if !ok {
		return
	}
	e := v.(*entry)

	t := time.AfterFunc(d, func() {
		// Remove-if-same: a confirm/cancel that won the race already deleted
		// this entry, and a fresh admission stored a different one.
		if r.entries.CompareAndDelete(actor, v) && onExpire != nil {
			onExpire(e.sub)
		}
	})

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = t
	e.mu.Unlock()

	// The entry may have been removed while we were arming; if so, make the
	// timer fire its no-op path immediately rather than waiting out d.
	if _, ok := r.entries.Load(actor); !ok {
		t.Reset(0)
	}
}

// Confirm atomically removes and returns the actor's pending submission.
func (r *Registry) Confirm(actor int64) (Submission, error) {
	return r.take(actor)
}

// Cancel atomically removes the actor's pending submission.
func (r *Registry) Cancel(actor int64) error {
	_, err := r.take(actor)
	return err
}

func (r *Registry) take(actor int64) (Submission, error) {
	v, ok := r.entries.LoadAndDelete(actor)
	if !ok {
		return Submission{}, ErrNoPending
	}
	e := v.(*entry)

	// Best-effort disarm. If the timer already fired, its remove-if-same
	// check lost the race to this removal and it does nothing.
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()

	return e.sub, nil
}

// Peek reports the pending submission for the actor without removing it.
func (r *Registry) Peek(actor int64) (Submission, bool) {
	v, ok := r.entries.Load(actor)
	if !ok {
		return Submission{}, false
	}
	return v.(*entry).sub, true
}
