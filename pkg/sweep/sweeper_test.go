package sweep_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/engine"
	"github.com/oceanbase/memtier-go/pkg/store"
	"github.com/oceanbase/memtier-go/pkg/store/sqlite"
	"github.com/oceanbase/memtier-go/pkg/sweep"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	st, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "sweep.db"),
	})
	require.NoError(t, err)

	eng, err := engine.NewWithStore(core.DefaultConfig(), st)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func sweepConfig() core.SweepConfig {
	cfg := core.DefaultSweepConfig()
	cfg.Workers = 2
	cfg.BatchSize = 2
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestNewRejectsBadConfig(t *testing.T) {
	eng := newTestEngine(t)

	cfg := sweepConfig()
	cfg.Workers = 0
	_, err := sweep.New(eng, cfg)
	require.Error(t, err)
}

func TestRunOnceEvaluatesWholePopulation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := eng.AddItem(ctx, "note", nil, 0.5)
		require.NoError(t, err)
	}

	sweeper, err := sweep.New(eng, sweepConfig())
	require.NoError(t, err)

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 5, stats.Evaluated)
	assert.Equal(t, 0, stats.Deferred)
	assert.Equal(t, 0, stats.Corrupt)

	// a completed scan resets the checkpoint
	marks := eng.Store().(store.Checkpoints)
	lastID, err := marks.LoadCheckpoint(ctx, "retention_sweep")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastID)
}

func TestRunOnceEmptyPopulation(t *testing.T) {
	eng := newTestEngine(t)

	sweeper, err := sweep.New(eng, sweepConfig())
	require.NoError(t, err)

	stats, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Evaluated)
}

func TestRunOnceResumesFromCheckpoint(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	var maxID int64
	for i := 0; i < 3; i++ {
		item, err := eng.AddItem(ctx, "note", nil, 0.5)
		require.NoError(t, err)
		if item.ID > maxID {
			maxID = item.ID
		}
	}

	// a checkpoint past the whole id space skips every item
	marks := eng.Store().(store.Checkpoints)
	require.NoError(t, marks.SaveCheckpoint(ctx, "retention_sweep", maxID))

	sweeper, err := sweep.New(eng, sweepConfig())
	require.NoError(t, err)

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Evaluated)
}

func TestRunOnceCancelledContext(t *testing.T) {
	eng := newTestEngine(t)

	sweeper, err := sweep.New(eng, sweepConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sweeper.RunOnce(ctx)
	require.Error(t, err)
}

func TestRunOnceCountsTransitionsAndDeletions(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// one idle WARM item that ages out to COLD
	aged := &core.MemoryItem{
		ID: 1, Content: "aged", CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
		Tier: core.TierWarm, CompressionLevel: core.CompressionSummary,
	}
	require.NoError(t, eng.Store().InsertItem(ctx, aged))

	sweeper, err := sweep.New(eng, sweepConfig())
	require.NoError(t, err)

	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 1, stats.Transitions)

	got, err := eng.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, core.TierCold, got.Tier)
}
