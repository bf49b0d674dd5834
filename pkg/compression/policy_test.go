package compression_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memtier-go/pkg/compression"
	"github.com/oceanbase/memtier-go/pkg/core"
)

func newPolicy(t *testing.T) *compression.Policy {
	t.Helper()
	policy, err := compression.NewPolicy(nil)
	require.NoError(t, err)
	return policy
}

func item(level core.CompressionLevel, age time.Duration, score float64, accesses int) *core.MemoryItem {
	return &core.MemoryItem{
		CreatedAt:        time.Now().Add(-age),
		CompressionLevel: level,
		CompositeScore:   score,
		AccessCount:      accesses,
	}
}

func TestNewPolicyRejectsBackwardStep(t *testing.T) {
	_, err := compression.NewPolicy([]compression.Threshold{
		{From: core.CompressionSummary, To: core.CompressionFull, MinAge: time.Hour, MaxScore: 0.5},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestNewPolicyRejectsOutOfRangeBounds(t *testing.T) {
	_, err := compression.NewPolicy([]compression.Threshold{
		{From: core.CompressionFull, To: core.CompressionSummary, MinAge: time.Hour, MaxScore: 1.5},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestNewPolicyRejectsDuplicateFromLevel(t *testing.T) {
	_, err := compression.NewPolicy([]compression.Threshold{
		{From: core.CompressionFull, To: core.CompressionSummary, MinAge: time.Hour, MaxScore: 0.5},
		{From: core.CompressionFull, To: core.CompressionKeywords, MinAge: time.Hour, MaxScore: 0.5},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestFullToSummaryRequiresAllThreeConditions(t *testing.T) {
	policy := newPolicy(t)
	now := time.Now()

	next, fire := policy.NextLevel(item(core.CompressionFull, 25*time.Hour, 0.5, 2), now)
	assert.True(t, fire)
	assert.Equal(t, core.CompressionSummary, next)

	// too young
	_, fire = policy.NextLevel(item(core.CompressionFull, 23*time.Hour, 0.5, 2), now)
	assert.False(t, fire)

	// score too high
	_, fire = policy.NextLevel(item(core.CompressionFull, 25*time.Hour, 0.61, 2), now)
	assert.False(t, fire)

	// too many accesses
	_, fire = policy.NextLevel(item(core.CompressionFull, 25*time.Hour, 0.5, 4), now)
	assert.False(t, fire)
}

func TestBoundaryValuesAreInclusive(t *testing.T) {
	policy := newPolicy(t)
	now := time.Now()

	it := item(core.CompressionFull, 24*time.Hour, 0.6, 3)
	it.CreatedAt = now.Add(-24 * time.Hour)
	next, fire := policy.NextLevel(it, now)
	assert.True(t, fire)
	assert.Equal(t, core.CompressionSummary, next)
}

func TestSummaryToKeywords(t *testing.T) {
	policy := newPolicy(t)
	now := time.Now()

	next, fire := policy.NextLevel(item(core.CompressionSummary, 8*24*time.Hour, 0.3, 1), now)
	assert.True(t, fire)
	assert.Equal(t, core.CompressionKeywords, next)

	_, fire = policy.NextLevel(item(core.CompressionSummary, 8*24*time.Hour, 0.3, 2), now)
	assert.False(t, fire)
}

func TestKeywordsToEmbeddingRequiresNoAccesses(t *testing.T) {
	policy := newPolicy(t)
	now := time.Now()

	next, fire := policy.NextLevel(item(core.CompressionKeywords, 31*24*time.Hour, 0.1, 0), now)
	assert.True(t, fire)
	assert.Equal(t, core.CompressionEmbedding, next)

	_, fire = policy.NextLevel(item(core.CompressionKeywords, 31*24*time.Hour, 0.1, 1), now)
	assert.False(t, fire)
}

func TestEmbeddingIsFinal(t *testing.T) {
	policy := newPolicy(t)
	_, fire := policy.NextLevel(item(core.CompressionEmbedding, 365*24*time.Hour, 0, 0), time.Now())
	assert.False(t, fire)
}

func TestCompressionAdvancesOrdering(t *testing.T) {
	assert.True(t, core.CompressionAdvances(core.CompressionFull, core.CompressionSummary))
	assert.True(t, core.CompressionAdvances(core.CompressionFull, core.CompressionEmbedding))
	assert.False(t, core.CompressionAdvances(core.CompressionSummary, core.CompressionSummary))
	assert.False(t, core.CompressionAdvances(core.CompressionKeywords, core.CompressionFull))
	assert.False(t, core.CompressionAdvances("bogus", core.CompressionSummary))
}
