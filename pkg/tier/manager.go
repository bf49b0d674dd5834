// Package tier implements the memory tier state machine.
//
// States form a closed enumeration (HOT, WARM, COLD, ARCHIVE, DELETED) with
// one exhaustive transition function per state, so every state is handled
// and a new state cannot be added without updating all call sites.
//
// Promotion conditions are checked before demotion conditions: on a boundary
// tie promotion wins, since losing high-value content costs more than an
// extra cycle in a lower tier. Within WARM, ARCHIVE qualification outranks
// re-promotion to HOT — permanent retention is the stronger promotion.
package tier

import (
	"fmt"
	"time"

	"github.com/oceanbase/memtier-go/pkg/core"
)

// Decision is the outcome of evaluating one item.
//
// A Decision with From == To is a no-op: the engine refreshes scores but
// writes no audit record, keeping re-evaluation idempotent.
type Decision struct {
	// From is the item's tier before evaluation.
	From core.Tier

	// To is the tier the item should hold after evaluation.
	To core.Tier

	// Reason is a short human-readable cause, recorded in the audit trail
	// when the tier actually changes.
	Reason string

	// ClearReactivated is set when a COLD item consumed its reactivation
	// flag by returning to WARM.
	ClearReactivated bool
}

// Changed reports whether the decision transitions the item.
func (d Decision) Changed() bool {
	return d.From != d.To
}

// Inputs carries the per-evaluation facts the state machine consumes beyond
// the item itself.
type Inputs struct {
	// BurstAccesses is the number of accesses inside the recent burst
	// window (default 4h), the WARM re-promotion trigger.
	BurstAccesses int

	// Now is the evaluation instant.
	Now time.Time
}

// Manager is the tier state machine.
//
// It is a pure decision component: it never touches the store. The engine
// recomputes the composite score from current signals before calling
// Evaluate and applies the returned decision transactionally.
//
// Example usage:
//
//	manager := tier.NewManager(core.DefaultTierConfig())
//	decision, err := manager.Evaluate(item, tier.Inputs{BurstAccesses: burst, Now: time.Now()})
//	if err == nil && decision.Changed() {
//	    // commit transition + audit record
//	}
type Manager struct {
	cfg core.TierConfig
}

// NewManager creates a new tier state machine with the given thresholds.
func NewManager(cfg core.TierConfig) *Manager {
	return &Manager{cfg: cfg}
}

// InitialTier returns the tier a freshly ingested item starts in, per its
// initial composite score: HOT at or above the ingest threshold, else WARM.
func (m *Manager) InitialTier(compositeScore float64) core.Tier {
	if compositeScore >= m.cfg.IngestHotScore {
		return core.TierHot
	}
	return core.TierWarm
}

// Evaluate runs the transition function for the item's current state.
//
// DELETED items are terminal and return core.ErrTerminalTier; an unknown
// tier returns core.ErrCorruptItem. The composite score on the item must
// already be recomputed from current signals.
func (m *Manager) Evaluate(item *core.MemoryItem, in Inputs) (Decision, error) {
	switch item.Tier {
	case core.TierHot:
		return m.evaluateHot(item, in), nil
	case core.TierWarm:
		return m.evaluateWarm(item, in), nil
	case core.TierCold:
		return m.evaluateCold(item, in), nil
	case core.TierArchive:
		return m.evaluateArchive(item), nil
	case core.TierDeleted:
		return Decision{}, core.NewRetentionError("Evaluate", core.ErrTerminalTier)
	default:
		return Decision{}, core.NewRetentionError("Evaluate",
			fmt.Errorf("%w: unknown tier %q", core.ErrCorruptItem, item.Tier))
	}
}

// evaluateHot: stay while young and high-value; otherwise demote to WARM
// when the score still clears the warm cut, else straight to COLD.
func (m *Manager) evaluateHot(item *core.MemoryItem, in Inputs) Decision {
	d := Decision{From: core.TierHot, To: core.TierHot}
	score := item.CompositeScore

	if item.Age(in.Now) < m.cfg.HotMaxAge && score >= m.cfg.HotStayMinScore {
		return d
	}

	if score >= m.cfg.HotToWarmMinScore {
		d.To = core.TierWarm
		d.Reason = fmt.Sprintf("aged out of HOT at score %.4f", score)
		return d
	}

	d.To = core.TierCold
	d.Reason = fmt.Sprintf("score %.4f below warm cut %.2f", score, m.cfg.HotToWarmMinScore)
	return d
}

// evaluateWarm: archive qualification first, then re-promotion on an access
// burst or a high score, then the stay window, else COLD.
func (m *Manager) evaluateWarm(item *core.MemoryItem, in Inputs) Decision {
	d := Decision{From: core.TierWarm, To: core.TierWarm}
	score := item.CompositeScore

	if m.archiveQualified(item) {
		d.To = core.TierArchive
		d.Reason = fmt.Sprintf("score %.4f with %d accesses qualifies for permanent retention",
			score, item.AccessCount)
		return d
	}

	// HOT requires a full rendition and restore is manual-only, so a
	// compressed item cannot re-heat until it is explicitly restored.
	promotable := item.CompressionLevel == core.CompressionFull
	if promotable && (in.BurstAccesses >= m.cfg.WarmPromoteAccesses || score >= m.cfg.WarmPromoteScore) {
		d.To = core.TierHot
		if in.BurstAccesses >= m.cfg.WarmPromoteAccesses {
			d.Reason = fmt.Sprintf("%d accesses in burst window", in.BurstAccesses)
		} else {
			d.Reason = fmt.Sprintf("score %.4f above promote cut %.2f", score, m.cfg.WarmPromoteScore)
		}
		return d
	}

	if item.Age(in.Now) < m.cfg.WarmMaxAge && score >= m.cfg.WarmStayMinScore {
		return d
	}

	d.To = core.TierCold
	d.Reason = fmt.Sprintf("aged out of WARM at score %.4f", score)
	return d
}

// evaluateCold: a reactivation access lifts the item back to WARM; archive
// qualification is next; long-idle worthless items delete; otherwise stay.
//
// A DELETED decision here is provisional: the engine re-confirms the
// no-recent-access condition with a guarded delete immediately before
// commit, so a concurrent access refuses the deletion.
func (m *Manager) evaluateCold(item *core.MemoryItem, in Inputs) Decision {
	d := Decision{From: core.TierCold, To: core.TierCold}
	score := item.CompositeScore

	if item.Reactivated {
		d.To = core.TierWarm
		d.Reason = "reactivated by access since demotion"
		d.ClearReactivated = true
		return d
	}

	if m.archiveQualified(item) {
		d.To = core.TierArchive
		d.Reason = fmt.Sprintf("score %.4f with %d accesses qualifies for permanent retention",
			score, item.AccessCount)
		return d
	}

	if item.Age(in.Now) > m.cfg.DeleteMinAge && score < m.cfg.DeleteMaxScore && item.AccessCount == 0 {
		d.To = core.TierDeleted
		d.Reason = fmt.Sprintf("idle %s with score %.4f and no accesses",
			item.Age(in.Now).Truncate(time.Hour), score)
		return d
	}

	return d
}

// evaluateArchive: absorbing. Exits only via explicit manual review.
func (m *Manager) evaluateArchive(item *core.MemoryItem) Decision {
	return Decision{From: core.TierArchive, To: core.TierArchive}
}

// archiveQualified reports whether the item meets the permanent-retention
// bar shared by the WARM and COLD states.
func (m *Manager) archiveQualified(item *core.MemoryItem) bool {
	return item.CompositeScore >= m.cfg.ArchiveMinScore &&
		item.AccessCount >= m.cfg.ArchiveMinAccesses
}
