package forgetting_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/forgetting"
)

func newModel() *forgetting.Model {
	return forgetting.NewModel(core.DefaultForgettingConfig())
}

func TestMemoryStrength(t *testing.T) {
	model := newModel()

	assert.Equal(t, 7.0, model.MemoryStrength(0))
	assert.Equal(t, 10.5, model.MemoryStrength(1))
	assert.InDelta(t, 7.0*1.5*1.5, model.MemoryStrength(2), 1e-9)
}

func TestMemoryStrengthMonotonic(t *testing.T) {
	model := newModel()
	prev := model.MemoryStrength(0)
	for n := 1; n <= 10; n++ {
		cur := model.MemoryStrength(n)
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestMemoryStrengthNegativeCountTreatedAsZero(t *testing.T) {
	model := newModel()
	assert.Equal(t, model.MemoryStrength(0), model.MemoryStrength(-3))
}

func TestRetentionProbabilityTenDays(t *testing.T) {
	model := newModel()
	now := time.Now()
	tenDaysAgo := now.Add(-10 * 24 * time.Hour)

	item := &core.MemoryItem{CreatedAt: tenDaysAgo, LastAccessedAt: &tenDaysAgo}
	// exp(-10/7) ≈ 0.2397
	assert.InDelta(t, math.Exp(-10.0/7.0), model.RetentionProbability(item, now), 1e-6)
}

func TestRetentionProbabilityNeverAccessedUsesCreation(t *testing.T) {
	model := newModel()
	now := time.Now()

	item := &core.MemoryItem{CreatedAt: now.Add(-7 * 24 * time.Hour)}
	assert.InDelta(t, math.Exp(-1), model.RetentionProbability(item, now), 1e-6)
}

func TestRetentionProbabilityDecreasesWithIdleTime(t *testing.T) {
	model := newModel()
	now := time.Now()

	oneDay := now.Add(-24 * time.Hour)
	oneWeek := now.Add(-7 * 24 * time.Hour)
	fresh := &core.MemoryItem{CreatedAt: oneDay, LastAccessedAt: &oneDay}
	stale := &core.MemoryItem{CreatedAt: oneWeek, LastAccessedAt: &oneWeek}

	assert.Greater(t, model.RetentionProbability(fresh, now), model.RetentionProbability(stale, now))
}

func TestReinforcementSlowsForgetting(t *testing.T) {
	model := newModel()
	now := time.Now()
	tenDaysAgo := now.Add(-10 * 24 * time.Hour)

	weak := &core.MemoryItem{CreatedAt: tenDaysAgo, LastAccessedAt: &tenDaysAgo}
	strong := &core.MemoryItem{CreatedAt: tenDaysAgo, LastAccessedAt: &tenDaysAgo, ReinforcementCount: 3}

	assert.Greater(t, model.RetentionProbability(strong, now), model.RetentionProbability(weak, now))
}

func TestShouldReinforce(t *testing.T) {
	model := newModel()

	assert.True(t, model.ShouldReinforce(0.49))
	assert.False(t, model.ShouldReinforce(0.5))
	assert.False(t, model.ShouldReinforce(0.9))
}

func TestEvaluateMatchesComponents(t *testing.T) {
	model := newModel()
	now := time.Now()
	fiveDaysAgo := now.Add(-5 * 24 * time.Hour)
	item := &core.MemoryItem{CreatedAt: fiveDaysAgo, LastAccessedAt: &fiveDaysAgo, ReinforcementCount: 2}

	strength, prob := model.Evaluate(item, now)
	assert.Equal(t, model.MemoryStrength(2), strength)
	assert.Equal(t, model.RetentionProbability(item, now), prob)
}
