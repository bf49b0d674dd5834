package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/engine"
	"github.com/oceanbase/memtier-go/pkg/store/sqlite"
)

func newTestEngine(t *testing.T, cfg *core.Config) *engine.Engine {
	t.Helper()
	if cfg == nil {
		cfg = core.DefaultConfig()
	}

	st, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "engine.db"),
	})
	require.NoError(t, err)

	eng, err := engine.NewWithStore(cfg, st)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestNewWithStoreRejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Weights.Confidence = 0.9

	_, err := engine.NewWithStore(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestAddItemHighConfidenceStartsHot(t *testing.T) {
	eng := newTestEngine(t, nil)

	// retention 0, uniqueness 1, confidence 1, recency 1 -> score 0.65
	item, err := eng.AddItem(context.Background(), "primary failover runbook", nil, 1.0)
	require.NoError(t, err)
	assert.Equal(t, core.TierHot, item.Tier)
	assert.Equal(t, 0.65, item.CompositeScore)
	assert.Equal(t, core.CompressionFull, item.CompressionLevel)
	assert.NotZero(t, item.ID)
}

func TestAddItemLowConfidenceStartsWarm(t *testing.T) {
	eng := newTestEngine(t, nil)

	// retention 0, uniqueness 1, confidence 0, recency 1 -> score 0.45
	item, err := eng.AddItem(context.Background(), "lunch is on thursdays", nil, 0.0)
	require.NoError(t, err)
	assert.Equal(t, core.TierWarm, item.Tier)
	assert.Equal(t, 0.45, item.CompositeScore)
}

func TestAddItemRejectsWrongEmbeddingDims(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.EmbeddingDims = 3
	eng := newTestEngine(t, cfg)

	_, err := eng.AddItem(context.Background(), "x", []float64{1, 2}, 0.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCorruptItem))
}

func TestRecordAccessUpdatesCounters(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item, err := eng.AddItem(ctx, "note", nil, 0.5)
	require.NoError(t, err)
	require.NoError(t, eng.RecordAccess(ctx, item.ID))

	got, err := eng.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)
}

func TestEvaluateIsIdempotentAndAuditsOnlyTransitions(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item, err := eng.AddItem(ctx, "stable fact", nil, 1.0)
	require.NoError(t, err)

	first, err := eng.EvaluateItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, first.Decision.Changed())

	second, err := eng.EvaluateItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Decision, second.Decision)

	records, err := eng.Evaluations(ctx, item.ID, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEvaluateCompressesAgedWarmItem(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item := &core.MemoryItem{
		ID:               1,
		Content:          "an old low-value note",
		CreatedAt:        time.Now().Add(-48 * time.Hour),
		Tier:             core.TierWarm,
		CompressionLevel: core.CompressionFull,
	}
	require.NoError(t, eng.Store().InsertItem(ctx, item))

	outcome, err := eng.EvaluateItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Decision.Changed())
	assert.Equal(t, core.CompressionFull, outcome.FromLevel)
	assert.Equal(t, core.CompressionSummary, outcome.ToLevel)

	got, err := eng.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CompressionSummary, got.CompressionLevel)
}

func TestEvaluateDeletesIdleColdItem(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	// two near-duplicate neighbors drive the target's uniqueness to 0
	shared := []float64{1, 0, 0}
	for id := int64(2); id <= 3; id++ {
		dup := &core.MemoryItem{
			ID: id, Content: "dup", CreatedAt: time.Now(),
			Tier: core.TierWarm, CompressionLevel: core.CompressionFull,
			Embedding: shared,
		}
		require.NoError(t, eng.Store().InsertItem(ctx, dup))
	}

	target := &core.MemoryItem{
		ID:               1,
		Content:          "stale duplicate",
		CreatedAt:        time.Now().Add(-31 * 24 * time.Hour),
		Tier:             core.TierCold,
		CompressionLevel: core.CompressionKeywords,
		Embedding:        shared,
	}
	require.NoError(t, eng.Store().InsertItem(ctx, target))

	outcome, err := eng.EvaluateItem(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Deleted)
	assert.Equal(t, core.TierDeleted, outcome.Decision.To)

	got, err := eng.GetItem(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TierDeleted, got.Tier)
	assert.Empty(t, got.Content)

	// terminal: never re-evaluated
	_, err = eng.EvaluateItem(ctx, target.ID)
	assert.True(t, errors.Is(err, core.ErrTerminalTier))

	records, err := eng.Evaluations(ctx, target.ID, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, core.TierCold, records[0].FromTier)
	assert.Equal(t, core.TierDeleted, records[0].ToTier)
}

func TestEvaluateExcludesCorruptItem(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item := &core.MemoryItem{
		ID: 1, Content: "x", CreatedAt: time.Now(),
		Tier: core.TierWarm, CompressionLevel: core.CompressionFull,
		AccessCount: -1,
	}
	require.NoError(t, eng.Store().InsertItem(ctx, item))

	_, err := eng.EvaluateItem(ctx, item.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCorruptItem))
}

func TestRestoreFull(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item := &core.MemoryItem{
		ID: 1, Content: "keywords only", CreatedAt: time.Now(),
		Tier: core.TierCold, CompressionLevel: core.CompressionKeywords,
	}
	require.NoError(t, eng.Store().InsertItem(ctx, item))

	require.NoError(t, eng.RestoreFull(ctx, item.ID, "the full original text"))

	got, err := eng.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CompressionFull, got.CompressionLevel)
	assert.Equal(t, "the full original text", got.Content)

	// already full: no-op
	require.NoError(t, eng.RestoreFull(ctx, item.ID, "something else"))
	got, err = eng.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "the full original text", got.Content)
}

func TestReviewArchive(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item := &core.MemoryItem{
		ID: 1, Content: "permanent record", CreatedAt: time.Now(),
		Tier: core.TierArchive, CompressionLevel: core.CompressionFull,
	}
	require.NoError(t, eng.Store().InsertItem(ctx, item))

	require.NoError(t, eng.ReviewArchive(ctx, item.ID, core.TierWarm))

	got, err := eng.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TierWarm, got.Tier)
	assert.Equal(t, core.TierArchive, got.PreviousTier)

	records, err := eng.Evaluations(ctx, item.ID, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "manual archive review", records[0].Reason)
}

func TestReviewArchiveRejectsBadTarget(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item := &core.MemoryItem{
		ID: 1, Content: "x", CreatedAt: time.Now(),
		Tier: core.TierArchive, CompressionLevel: core.CompressionFull,
	}
	require.NoError(t, eng.Store().InsertItem(ctx, item))

	err := eng.ReviewArchive(ctx, item.ID, core.TierHot)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrManualOnly))
}

func TestReviewArchiveRejectsNonArchiveItem(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	item, err := eng.AddItem(ctx, "fresh", nil, 0.5)
	require.NoError(t, err)

	err = eng.ReviewArchive(ctx, item.ID, core.TierWarm)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrManualOnly))
}
