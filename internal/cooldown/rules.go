package cooldown

import (
	"sort"
	"time"
)

// Rule grants a cooldown duration to holders of a capability.
type Rule struct {
	Capability string
	Duration   time.Duration
}

// Rules is an immutable cooldown policy. Config reloads build a fresh Rules
// and swap it in wholesale; it is never mutated in place.
type Rules struct {
	// Default applies when the actor qualifies for no rank rule.
	Default time.Duration
	// Bypass is the capability that waives the cooldown entirely.
	Bypass string
	// Ranks is the precomputed (capability, duration) list, iterated once
	// per check with a minimum reduction.
	Ranks []Rule
}

// NewRules builds a policy from a rank-name -> duration map. Rank names map
// to capabilities as rankCapPrefix + name. The list is sorted by capability
// for stable iteration.
func NewRules(def time.Duration, bypass string, ranks map[string]time.Duration, rankCapPrefix string) *Rules {
	r := &Rules{Default: def, Bypass: bypass, Ranks: make([]Rule, 0, len(ranks))}
	for name, d := range ranks {
		r.Ranks = append(r.Ranks, Rule{Capability: rankCapPrefix + name, Duration: d})
	}
	sort.Slice(r.Ranks, func(i, j int) bool { return r.Ranks[i].Capability < r.Ranks[j].Capability })
	return r
}
