package tier_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/tier"
)

func newManager() *tier.Manager {
	return tier.NewManager(core.DefaultTierConfig())
}

func item(t core.Tier, age time.Duration, score float64) *core.MemoryItem {
	return &core.MemoryItem{
		Tier:             t,
		CreatedAt:        time.Now().Add(-age),
		CompositeScore:   score,
		CompressionLevel: core.CompressionFull,
	}
}

func evaluate(t *testing.T, m *tier.Manager, it *core.MemoryItem, burst int) tier.Decision {
	t.Helper()
	d, err := m.Evaluate(it, tier.Inputs{BurstAccesses: burst, Now: time.Now()})
	require.NoError(t, err)
	return d
}

func TestInitialTier(t *testing.T) {
	m := newManager()
	assert.Equal(t, core.TierHot, m.InitialTier(0.6))
	assert.Equal(t, core.TierHot, m.InitialTier(0.9))
	assert.Equal(t, core.TierWarm, m.InitialTier(0.59))
}

func TestHotStaysWhileYoungAndValuable(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierHot, 10*time.Hour, 0.75), 0)
	assert.False(t, d.Changed())
}

func TestHotAgesOutToWarm(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierHot, 25*time.Hour, 0.65), 0)
	assert.Equal(t, core.TierWarm, d.To)
}

func TestHotLowScoreDropsToCold(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierHot, 25*time.Hour, 0.55), 0)
	assert.Equal(t, core.TierCold, d.To)
}

func TestHotScoreCollapseSkipsWarm(t *testing.T) {
	m := newManager()
	// demotion fires on score even before the age window closes
	d := evaluate(t, m, item(core.TierHot, 2*time.Hour, 0.2), 0)
	assert.Equal(t, core.TierCold, d.To)
}

func TestWarmArchiveQualificationBeatsPromotion(t *testing.T) {
	m := newManager()
	it := item(core.TierWarm, 48*time.Hour, 0.82)
	it.AccessCount = 6
	d := evaluate(t, m, it, 0)
	assert.Equal(t, core.TierArchive, d.To)
}

func TestWarmPromotesOnAccessBurst(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierWarm, 48*time.Hour, 0.5), 3)
	assert.Equal(t, core.TierHot, d.To)
}

func TestWarmPromotesOnHighScore(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierWarm, 48*time.Hour, 0.76), 0)
	assert.Equal(t, core.TierHot, d.To)
}

func TestCompressedWarmItemNotPromoted(t *testing.T) {
	m := newManager()
	it := item(core.TierWarm, 48*time.Hour, 0.76)
	it.CompressionLevel = core.CompressionSummary
	d := evaluate(t, m, it, 3)
	assert.Equal(t, core.TierWarm, d.To)
}

func TestWarmStaysInsideWindow(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierWarm, 3*24*time.Hour, 0.5), 0)
	assert.False(t, d.Changed())
}

func TestWarmAgesOutToCold(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierWarm, 8*24*time.Hour, 0.5), 0)
	assert.Equal(t, core.TierCold, d.To)
}

func TestWarmLowScoreDropsToCold(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierWarm, 24*time.Hour, 0.2), 0)
	assert.Equal(t, core.TierCold, d.To)
}

func TestColdReactivationReturnsToWarm(t *testing.T) {
	m := newManager()
	it := item(core.TierCold, 10*24*time.Hour, 0.4)
	it.Reactivated = true
	d := evaluate(t, m, it, 0)
	assert.Equal(t, core.TierWarm, d.To)
	assert.True(t, d.ClearReactivated)
}

func TestColdArchiveQualification(t *testing.T) {
	m := newManager()
	it := item(core.TierCold, 10*24*time.Hour, 0.85)
	it.AccessCount = 7
	d := evaluate(t, m, it, 0)
	assert.Equal(t, core.TierArchive, d.To)
}

func TestColdIdleWorthlessItemDeleted(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierCold, 31*24*time.Hour, 0.05), 0)
	assert.Equal(t, core.TierDeleted, d.To)
}

func TestColdAccessedItemNeverDeleted(t *testing.T) {
	m := newManager()
	it := item(core.TierCold, 31*24*time.Hour, 0.05)
	it.AccessCount = 1
	d := evaluate(t, m, it, 0)
	assert.False(t, d.Changed())
}

func TestColdYoungItemNotDeleted(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierCold, 20*24*time.Hour, 0.05), 0)
	assert.False(t, d.Changed())
}

func TestArchiveIsAbsorbing(t *testing.T) {
	m := newManager()
	d := evaluate(t, m, item(core.TierArchive, 365*24*time.Hour, 0.0), 0)
	assert.False(t, d.Changed())
}

func TestDeletedIsTerminal(t *testing.T) {
	m := newManager()
	_, err := m.Evaluate(item(core.TierDeleted, time.Hour, 0.5), tier.Inputs{Now: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTerminalTier))
}

func TestUnknownTierIsCorrupt(t *testing.T) {
	m := newManager()
	_, err := m.Evaluate(item("LUKEWARM", time.Hour, 0.5), tier.Inputs{Now: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCorruptItem))
}
