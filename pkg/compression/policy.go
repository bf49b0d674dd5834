// Package compression decides compression-level transitions and defines the
// Compressor interface used to produce reduced content renditions.
//
// Transitions are forward-only (full → summary → keywords → embedding) and
// automatic; restoring to full happens only via an explicit external request,
// never automatically.
package compression

import (
	"fmt"
	"time"

	"github.com/oceanbase/memtier-go/pkg/core"
)

// Threshold is one row of the compression transition table.
//
// A transition fires only when all three conditions hold simultaneously:
// the item is at least MinAge old, its composite score is at most MaxScore,
// and its access count is at most MaxAccesses.
type Threshold struct {
	// From is the current compression level.
	From core.CompressionLevel

	// To is the next compression level.
	To core.CompressionLevel

	// MinAge is the minimum item age for the transition.
	MinAge time.Duration

	// MaxScore is the maximum composite score for the transition.
	MaxScore float64

	// MaxAccesses is the maximum access count for the transition.
	MaxAccesses int
}

// DefaultThresholds returns the standard transition table:
//
//	full     → summary   at 24h, score ≤ 0.6, accesses ≤ 3
//	summary  → keywords  at 7d,  score ≤ 0.4, accesses ≤ 1
//	keywords → embedding at 30d, score ≤ 0.2, accesses ≤ 0
func DefaultThresholds() []Threshold {
	return []Threshold{
		{From: core.CompressionFull, To: core.CompressionSummary, MinAge: 24 * time.Hour, MaxScore: 0.6, MaxAccesses: 3},
		{From: core.CompressionSummary, To: core.CompressionKeywords, MinAge: 7 * 24 * time.Hour, MaxScore: 0.4, MaxAccesses: 1},
		{From: core.CompressionKeywords, To: core.CompressionEmbedding, MinAge: 30 * 24 * time.Hour, MaxScore: 0.2, MaxAccesses: 0},
	}
}

// Policy decides compression-level transitions from the transition table.
//
// Example usage:
//
//	policy, err := compression.NewPolicy(compression.DefaultThresholds())
//	next, ok := policy.NextLevel(item, time.Now())
//	if ok {
//	    // compress item content down to next
//	}
type Policy struct {
	byLevel map[core.CompressionLevel]Threshold
}

// NewPolicy creates a compression policy from a transition table.
//
// Parameters:
//   - thresholds: Transition rows; nil uses DefaultThresholds()
//
// Returns a new Policy, or an error wrapping core.ErrInvalidConfig if a row
// is not a forward step or its bounds are out of range.
func NewPolicy(thresholds []Threshold) (*Policy, error) {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}

	byLevel := make(map[core.CompressionLevel]Threshold, len(thresholds))
	for _, t := range thresholds {
		if !core.CompressionAdvances(t.From, t.To) {
			return nil, core.NewRetentionError("NewPolicy",
				fmt.Errorf("%w: %s -> %s is not a forward step", core.ErrInvalidConfig, t.From, t.To))
		}
		if t.MinAge <= 0 || t.MaxScore < 0 || t.MaxScore > 1 || t.MaxAccesses < 0 {
			return nil, core.NewRetentionError("NewPolicy",
				fmt.Errorf("%w: threshold %s -> %s out of range", core.ErrInvalidConfig, t.From, t.To))
		}
		if _, dup := byLevel[t.From]; dup {
			return nil, core.NewRetentionError("NewPolicy",
				fmt.Errorf("%w: duplicate transition from %s", core.ErrInvalidConfig, t.From))
		}
		byLevel[t.From] = t
	}

	return &Policy{byLevel: byLevel}, nil
}

// NextLevel returns the level the item should compress to, if any.
//
// The transition fires only when the item's age, composite score and access
// count all satisfy the table row for its current level. HOT items never
// compress; the engine keeps them at full by skipping this check entirely.
//
// Returns the target level and true when a transition should fire, or the
// current level and false otherwise.
func (p *Policy) NextLevel(item *core.MemoryItem, now time.Time) (core.CompressionLevel, bool) {
	t, ok := p.byLevel[item.CompressionLevel]
	if !ok {
		return item.CompressionLevel, false
	}

	if item.Age(now) < t.MinAge {
		return item.CompressionLevel, false
	}
	if item.CompositeScore > t.MaxScore {
		return item.CompressionLevel, false
	}
	if item.AccessCount > t.MaxAccesses {
		return item.CompressionLevel, false
	}

	return t.To, true
}
