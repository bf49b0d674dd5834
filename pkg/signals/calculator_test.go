package signals_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/signals"
)

func newCalculator() *signals.Calculator {
	return signals.NewCalculator(core.DefaultSignalConfig())
}

func TestRetentionValueEmptyHistory(t *testing.T) {
	calc := newCalculator()
	assert.Equal(t, 0.0, calc.RetentionValue(nil, time.Now()))
	assert.Equal(t, 0.0, calc.RetentionValue([]core.AccessEvent{}, time.Now()))
}

func TestRetentionValueWeighsRecentAccessesHigher(t *testing.T) {
	calc := newCalculator()
	now := time.Now()

	recent := []core.AccessEvent{
		{AccessedAt: now.Add(-1 * time.Hour)},
		{AccessedAt: now.Add(-2 * time.Hour)},
	}
	old := []core.AccessEvent{
		{AccessedAt: now.Add(-25 * 24 * time.Hour)},
		{AccessedAt: now.Add(-28 * 24 * time.Hour)},
	}

	assert.Greater(t, calc.RetentionValue(recent, now), calc.RetentionValue(old, now))
}

func TestRetentionValueIgnoresEventsOutsideWindow(t *testing.T) {
	calc := newCalculator()
	now := time.Now()

	history := []core.AccessEvent{
		{AccessedAt: now.Add(-60 * 24 * time.Hour)},
	}
	assert.Equal(t, 0.0, calc.RetentionValue(history, now))
}

func TestRetentionValueSaturates(t *testing.T) {
	calc := newCalculator()
	now := time.Now()

	var history []core.AccessEvent
	for i := 0; i < 100; i++ {
		history = append(history, core.AccessEvent{AccessedAt: now.Add(-time.Minute)})
	}
	assert.Equal(t, 1.0, calc.RetentionValue(history, now))
}

func TestUniquenessFewNeighbors(t *testing.T) {
	calc := newCalculator()
	assert.Equal(t, 1.0, calc.Uniqueness(nil))
	assert.Equal(t, 1.0, calc.Uniqueness([]float64{0.99}))
}

func TestUniquenessFromNeighborMean(t *testing.T) {
	calc := newCalculator()

	// mean 0.8 -> uniqueness 0.2
	assert.InDelta(t, 0.2, calc.Uniqueness([]float64{0.9, 0.7}), 1e-9)
	// near-duplicates drive uniqueness to ~0
	assert.InDelta(t, 0.0, calc.Uniqueness([]float64{1.0, 1.0, 1.0}), 1e-9)
}

func TestConfidenceClamped(t *testing.T) {
	calc := newCalculator()
	assert.Equal(t, 0.0, calc.Confidence(-0.5))
	assert.Equal(t, 1.0, calc.Confidence(1.5))
	assert.Equal(t, 0.7, calc.Confidence(0.7))
}

func TestAccessRecencyDecays(t *testing.T) {
	calc := newCalculator()
	now := time.Now()
	tenDaysAgo := now.Add(-10 * 24 * time.Hour)

	item := &core.MemoryItem{CreatedAt: tenDaysAgo, LastAccessedAt: &tenDaysAgo}
	// exp(-0.1 * 10) = exp(-1)
	assert.InDelta(t, math.Exp(-1), calc.AccessRecency(item, now), 1e-6)
}

func TestAccessRecencyNeverAccessedMeasuresFromCreation(t *testing.T) {
	calc := newCalculator()
	now := time.Now()

	item := &core.MemoryItem{CreatedAt: now.Add(-10 * 24 * time.Hour)}
	assert.InDelta(t, math.Exp(-1), calc.AccessRecency(item, now), 1e-6)
}

func TestAccessRecencyReinforcementBoostCapped(t *testing.T) {
	calc := newCalculator()
	now := time.Now()

	item := &core.MemoryItem{CreatedAt: now, LastAccessedAt: &now, ReinforcementCount: 50}
	assert.Equal(t, 1.0, calc.AccessRecency(item, now))
}

func TestComputeReturnsAllSignalsInRange(t *testing.T) {
	calc := newCalculator()
	now := time.Now()
	item := &core.MemoryItem{CreatedAt: now.Add(-48 * time.Hour), ReinforcementCount: 2}
	history := []core.AccessEvent{{AccessedAt: now.Add(-time.Hour)}}

	sig := calc.Compute(item, history, []float64{0.9, 0.5}, 0.8, now)
	for _, v := range []float64{sig.RetentionValue, sig.Uniqueness, sig.Confidence, sig.AccessRecency} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, 0.8, sig.Confidence)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, signals.CosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, signals.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, signals.CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, signals.CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, signals.CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
	assert.Equal(t, 0.0, signals.CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}
