// Package forgetting models memory strength and retention probability with
// reinforcement, after the Ebbinghaus forgetting curve.
//
// The model is advisory: it flags items at risk of becoming unrecallable and
// can prioritize reinforcement, but tier decisions are driven primarily by
// the composite score. A low retention probability does not by itself force
// a tier change.
package forgetting

import (
	"math"
	"time"

	"github.com/oceanbase/memtier-go/pkg/core"
)

// Model computes memory strength and retention probability.
//
// Strength grows multiplicatively with reinforcement:
//
//	memory_strength = base_strength * (1 + increment)^reinforcement_count
//
// and retention decays exponentially against it:
//
//	retention_probability = exp(-days_since_access / memory_strength)
//
// With the defaults (base strength 7 days, increment 0.5), an item with no
// reinforcements and a 10-day-old last access has strength 7 and retention
// probability exp(-10/7) ≈ 0.24.
//
// Example usage:
//
//	model := forgetting.NewModel(core.DefaultForgettingConfig())
//	prob := model.RetentionProbability(item, time.Now())
//	if model.ShouldReinforce(prob) {
//	    // schedule a review of this item
//	}
type Model struct {
	cfg core.ForgettingConfig
}

// NewModel creates a new forgetting-curve model.
//
// Parameters:
//   - cfg: Base strength (days), strength increment, reinforce threshold
//
// Returns a new Model.
func NewModel(cfg core.ForgettingConfig) *Model {
	return &Model{cfg: cfg}
}

// MemoryStrength returns the modeled strength in days for the given
// reinforcement count.
//
// Strength is strictly increasing in reinforcement count.
func (m *Model) MemoryStrength(reinforcementCount int) float64 {
	if reinforcementCount < 0 {
		reinforcementCount = 0
	}
	return m.cfg.BaseStrengthDays * math.Pow(1+m.cfg.StrengthIncrement, float64(reinforcementCount))
}

// RetentionProbability returns the modeled probability that the item is
// still recallable at the given instant.
//
// The probability is strictly decreasing in days since last access and
// strictly increasing in reinforcement count, all else fixed. Items never
// accessed measure from their creation time.
func (m *Model) RetentionProbability(item *core.MemoryItem, now time.Time) float64 {
	days := item.SinceAccess(now).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	strength := m.MemoryStrength(item.ReinforcementCount)
	return math.Exp(-days / strength)
}

// ShouldReinforce reports whether the retention probability has fallen
// below the configured threshold (default 0.5), flagging the item as at
// risk of becoming unrecallable.
func (m *Model) ShouldReinforce(retentionProbability float64) bool {
	return retentionProbability < m.cfg.ReinforceThreshold
}

// Evaluate computes strength and probability together, as they are stored
// on the item by each evaluation commit.
func (m *Model) Evaluate(item *core.MemoryItem, now time.Time) (strength, probability float64) {
	strength = m.MemoryStrength(item.ReinforcementCount)
	probability = m.RetentionProbability(item, now)
	return strength, probability
}
