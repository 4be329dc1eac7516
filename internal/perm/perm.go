// Package perm implements adbot's capability checks.
//
// Capabilities are plain strings ("ads.use", "ads.bypass", ...). A Table is
// immutable once built; config reloads build a fresh Table and swap it in
// wholesale via Switcher, so readers never observe a partially-rebuilt set.
package perm

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// Checker is an opaque capability test.
type Checker interface {
	Has(actorID int64, capability string) bool
}

// Table is an immutable capability assignment.
type Table struct {
	everyone map[string]struct{}
	users    map[int64]map[string]struct{}
	owners   map[int64]struct{}
}

// NewTable builds a Table. Owner ids hold every capability. userGrants keys
// are user ids as decimal strings (config map keys); malformed keys are
// skipped (config validation reports them before this point).
func NewTable(owners []int64, everyone []string, userGrants map[string][]string) *Table {
	t := &Table{
		everyone: make(map[string]struct{}, len(everyone)),
		users:    make(map[int64]map[string]struct{}, len(userGrants)),
		owners:   make(map[int64]struct{}, len(owners)),
	}
	for _, c := range everyone {
		if c = strings.TrimSpace(c); c != "" {
			t.everyone[c] = struct{}{}
		}
	}
	for _, id := range owners {
		t.owners[id] = struct{}{}
	}
	for key, caps := range userGrants {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			continue
		}
		set := make(map[string]struct{}, len(caps))
		for _, c := range caps {
			if c = strings.TrimSpace(c); c != "" {
				set[c] = struct{}{}
			}
		}
		t.users[id] = set
	}
	return t
}

func (t *Table) Has(actorID int64, capability string) bool {
	if t == nil {
		return false
	}
	if _, ok := t.owners[actorID]; ok {
		return true
	}
	if _, ok := t.everyone[capability]; ok {
		return true
	}
	if set, ok := t.users[actorID]; ok {
		_, ok2 := set[capability]
		return ok2
	}
	return false
}

// Switcher is a Checker whose Table can be replaced atomically on reload.
type Switcher struct {
	p atomic.Pointer[Table]
}

func NewSwitcher(t *Table) *Switcher {
	s := &Switcher{}
	s.p.Store(t)
	return s
}

func (s *Switcher) Swap(t *Table) { s.p.Store(t) }

func (s *Switcher) Has(actorID int64, capability string) bool {
	return s.p.Load().Has(actorID, capability)
}
