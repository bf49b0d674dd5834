// Package engine provides the retention engine facade.
//
// The engine wires the decision components (signals, scoring, forgetting,
// compression, tier) to an item store and applies every transition as an
// expected-version compare-and-swap. It owns no item state itself.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/oceanbase/memtier-go/pkg/compression"
	openaiCompressor "github.com/oceanbase/memtier-go/pkg/compression/openai"
	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/forgetting"
	"github.com/oceanbase/memtier-go/pkg/scoring"
	"github.com/oceanbase/memtier-go/pkg/signals"
	"github.com/oceanbase/memtier-go/pkg/store"
	mysqlStore "github.com/oceanbase/memtier-go/pkg/store/mysql"
	postgresStore "github.com/oceanbase/memtier-go/pkg/store/postgres"
	sqliteStore "github.com/oceanbase/memtier-go/pkg/store/sqlite"
	"github.com/oceanbase/memtier-go/pkg/tier"
)

// futureSkew is the clock-skew allowance when validating timestamps.
const futureSkew = time.Minute

// Engine is the tiered memory-retention engine.
//
// It computes per-item retention decisions and applies them transactionally
// against the item store. The engine is thread-safe: all mutable state lives
// in the store, guarded by optimistic concurrency.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	eng, _ := engine.New(config)
//	defer eng.Close()
//
//	item, _ := eng.AddItem(ctx, "OceanBase ships a vector index", embedding, 0.9)
//	_ = eng.RecordAccess(ctx, item.ID)
type Engine struct {
	// config contains the engine configuration.
	config *core.Config

	// store is the item store for persistence.
	store store.ItemStore

	// audit is the append-only evaluation trail.
	audit store.AuditLog

	// calculator derives the four retention signals.
	calculator *signals.Calculator

	// classifier combines signals into the composite score.
	classifier *scoring.Classifier

	// model is the forgetting-curve model.
	model *forgetting.Model

	// policy decides compression-level transitions.
	policy *compression.Policy

	// tiers is the tier state machine.
	tiers *tier.Manager

	// compressor produces reduced renditions (nil disables rewriting).
	compressor compression.Compressor

	// snowflakeNode generates unique ids for items and audit records.
	snowflakeNode *snowflake.Node
}

// Outcome is the result of one item evaluation.
type Outcome struct {
	// Decision is the tier decision that was applied.
	Decision tier.Decision

	// FromLevel and ToLevel record a compression step, equal when none fired.
	FromLevel core.CompressionLevel
	ToLevel   core.CompressionLevel

	// Deleted is set when the item was committed to DELETED.
	Deleted bool

	// ShouldReinforce is the forgetting model's advisory flag: the item's
	// retention probability fell below the reinforce threshold.
	ShouldReinforce bool
}

// New creates a new retention engine.
//
// The engine is initialized with:
//   - Item store (SQLite, PostgreSQL, or MySQL)
//   - Value classifier built from the configured weights
//   - Forgetting-curve model and compression policy
//   - LLM compressor (if configured)
//
// Parameters:
//   - cfg: Complete engine configuration
//
// Returns a new Engine instance, or an error wrapping core.ErrInvalidConfig
// if the configuration is invalid.
func New(cfg *core.Config) (*Engine, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := newStore(&cfg.Store)
	if err != nil {
		return nil, core.NewRetentionError("New", err)
	}

	eng, err := NewWithStore(cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return eng, nil
}

// NewWithStore creates an engine on an existing store.
//
// The store must also implement store.AuditLog; all bundled stores do.
// Intended for tests and for callers that manage their own store lifecycle.
func NewWithStore(cfg *core.Config, st store.ItemStore) (*Engine, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	audit, ok := st.(store.AuditLog)
	if !ok {
		return nil, core.NewRetentionError("NewWithStore",
			fmt.Errorf("%w: store does not implement the audit log", core.ErrInvalidConfig))
	}

	classifier, err := scoring.NewClassifier(cfg.Weights)
	if err != nil {
		return nil, err
	}

	policy, err := compression.NewPolicy(nil)
	if err != nil {
		return nil, err
	}

	compressor, err := newCompressor(cfg.Compressor)
	if err != nil {
		return nil, core.NewRetentionError("NewWithStore", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, core.NewRetentionError("NewWithStore", err)
	}

	return &Engine{
		config:        cfg,
		store:         st,
		audit:         audit,
		calculator:    signals.NewCalculator(cfg.Signals),
		classifier:    classifier,
		model:         forgetting.NewModel(cfg.Forgetting),
		policy:        policy,
		tiers:         tier.NewManager(cfg.Tiers),
		compressor:    compressor,
		snowflakeNode: node,
	}, nil
}

// newStore builds the configured item store (teacher-style provider switch).
func newStore(cfg *core.StoreConfig) (store.ItemStore, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath: getString(cfg.Config, "db_path", "./memtier.db"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:     getString(cfg.Config, "host", "localhost"),
			Port:     getInt(cfg.Config, "port", 5432),
			User:     getString(cfg.Config, "user", "postgres"),
			Password: getString(cfg.Config, "password", ""),
			DBName:   getString(cfg.Config, "db_name", "memtier"),
			SSLMode:  getString(cfg.Config, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:     getString(cfg.Config, "host", "127.0.0.1"),
			Port:     getInt(cfg.Config, "port", 3306),
			User:     getString(cfg.Config, "user", "root"),
			Password: getString(cfg.Config, "password", ""),
			DBName:   getString(cfg.Config, "db_name", "memtier"),
		})
	default:
		return nil, fmt.Errorf("%w: unknown store provider %q", core.ErrInvalidConfig, cfg.Provider)
	}
}

// newCompressor builds the configured compressor, nil when unconfigured.
func newCompressor(cfg *core.CompressorConfig) (compression.Compressor, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		return openaiCompressor.NewClient(&openaiCompressor.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "truncate":
		return &compression.TruncatingCompressor{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown compressor provider %q", core.ErrInvalidConfig, cfg.Provider)
	}
}

// AddItem ingests a new item.
//
// The initial composite score is computed from the initial signals (empty
// access history, neighborhood uniqueness, the upstream confidence, and a
// perfect recency); the score decides whether the item starts HOT or WARM.
//
// Parameters:
//   - ctx: Context for cancellation
//   - content: Full original rendition
//   - embedding: Fixed-length vector from the upstream pipeline
//   - confidence: Upstream source-reliability signal in [0,1]
//
// Returns the stored item, or an error.
func (e *Engine) AddItem(ctx context.Context, content string, embedding []float64, confidence float64) (*core.MemoryItem, error) {
	if e.config.EmbeddingDims > 0 && len(embedding) > 0 && len(embedding) != e.config.EmbeddingDims {
		return nil, core.NewRetentionError("AddItem",
			fmt.Errorf("%w: embedding has %d dims, want %d", core.ErrCorruptItem, len(embedding), e.config.EmbeddingDims))
	}

	now := time.Now()
	item := &core.MemoryItem{
		ID:               e.snowflakeNode.Generate().Int64(),
		Content:          content,
		CreatedAt:        now,
		CompressionLevel: core.CompressionFull,
		Embedding:        embedding,
	}

	neighborSims, err := e.neighborSimilarities(ctx, item)
	if err != nil {
		return nil, core.NewRetentionError("AddItem", err)
	}

	item.Signals = e.calculator.Compute(item, nil, neighborSims, confidence, now)
	item.CompositeScore = e.classifier.CompositeScore(item.Signals)
	item.MemoryStrength, item.RetentionProbability = e.model.Evaluate(item, now)
	item.Tier = e.tiers.InitialTier(item.CompositeScore)
	item.TierChangedAt = now

	if err := e.store.InsertItem(ctx, item); err != nil {
		return nil, core.NewRetentionError("AddItem", err)
	}
	return item, nil
}

// RecordAccess applies one access event to an item and opportunistically
// re-evaluates it.
//
// The counter increment is commutative and never conflicts with a running
// sweep; the follow-up evaluation is best-effort and a transient conflict
// is left for the next sweep.
func (e *Engine) RecordAccess(ctx context.Context, id int64) error {
	if err := e.store.RecordAccess(ctx, id, time.Now()); err != nil {
		return core.NewRetentionError("RecordAccess", err)
	}

	if _, err := e.EvaluateItem(ctx, id); err != nil && core.IsTransient(err) {
		log.Printf("memtier: opportunistic evaluation of item %d deferred: %v", id, err)
	}
	return nil
}

// EvaluateItem runs the full decision pipeline for one item and commits the
// result with a single compare-and-swap.
//
// Pipeline: validate → signals → composite score → forgetting outputs →
// compression decision → tier decision → CAS commit + audit record.
//
// Evaluation is idempotent: unchanged inputs reproduce the same decision,
// and a no-op writes no audit record. Errors:
//   - core.ErrCorruptItem: malformed item data, excluded from evaluation
//   - core.ErrVersionConflict / core.ErrStoreUnavailable: transient, retryable
//   - core.ErrTerminalTier: the item is DELETED
//   - core.ErrPreconditionFailed: a deletion lost its no-recent-access recheck
func (e *Engine) EvaluateItem(ctx context.Context, id int64) (*Outcome, error) {
	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return nil, core.NewRetentionError("EvaluateItem", err)
	}
	return e.evaluate(ctx, item)
}

// evaluate runs the pipeline on an already-loaded item.
func (e *Engine) evaluate(ctx context.Context, item *core.MemoryItem) (*Outcome, error) {
	const op = "EvaluateItem"
	now := time.Now()

	if item.Tier == core.TierDeleted {
		return nil, core.NewRetentionError(op, core.ErrTerminalTier)
	}
	if err := e.validateItem(item, now); err != nil {
		return nil, core.NewRetentionError(op, err)
	}

	window := time.Duration(e.config.Signals.WindowDays * float64(24*time.Hour))
	history, err := e.store.AccessHistory(ctx, item.ID, now.Add(-window))
	if err != nil {
		return nil, core.NewRetentionError(op, err)
	}
	if err := validateHistory(history, now); err != nil {
		return nil, core.NewRetentionError(op, err)
	}

	neighborSims, err := e.neighborSimilarities(ctx, item)
	if err != nil {
		return nil, core.NewRetentionError(op, err)
	}

	// Composite score is always recomputed from current signals before
	// the tier decision.
	item.Signals = e.calculator.Compute(item, history, neighborSims, item.Signals.Confidence, now)
	item.CompositeScore = e.classifier.CompositeScore(item.Signals)
	item.MemoryStrength, item.RetentionProbability = e.model.Evaluate(item, now)

	outcome := &Outcome{
		FromLevel:       item.CompressionLevel,
		ToLevel:         item.CompressionLevel,
		ShouldReinforce: e.model.ShouldReinforce(item.RetentionProbability),
	}

	decision, err := e.tiers.Evaluate(item, tier.Inputs{
		BurstAccesses: countSince(history, now.Add(-e.config.Tiers.BurstWindow)),
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	outcome.Decision = decision

	if decision.To == core.TierDeleted {
		// Guarded delete: re-confirm the no-recent-access condition at
		// commit time. A concurrent access refuses the deletion and the
		// item is picked up again next sweep.
		if err := e.store.DeleteItem(ctx, item.ID, item.Version, item.AccessCount); err != nil {
			return nil, core.NewRetentionError(op, err)
		}
		outcome.Deleted = true
		if err := e.appendAudit(ctx, item.ID, decision, now); err != nil {
			return nil, core.NewRetentionError(op, err)
		}
		return outcome, nil
	}

	update := &store.ItemUpdate{
		Signals:              &item.Signals,
		CompositeScore:       &item.CompositeScore,
		MemoryStrength:       &item.MemoryStrength,
		RetentionProbability: &item.RetentionProbability,
	}

	// Compression never applies while the item is (or becomes) HOT, which
	// keeps HOT items at the full rendition.
	if item.Tier != core.TierHot && decision.To != core.TierHot {
		if next, fire := e.policy.NextLevel(item, now); fire {
			content, err := e.compressTo(ctx, item.Content, next)
			if err != nil {
				log.Printf("memtier: compression of item %d to %s failed, keeping level: %v", item.ID, next, err)
			} else {
				update.CompressionLevel = &next
				update.Content = &content
				outcome.ToLevel = next
			}
		}
	}

	if decision.Changed() {
		changedAt := now
		update.Tier = &decision.To
		update.PreviousTier = &decision.From
		update.TierChangedAt = &changedAt
	}
	if decision.ClearReactivated {
		cleared := false
		update.Reactivated = &cleared
	}

	if err := e.store.UpdateItem(ctx, item.ID, update, item.Version); err != nil {
		return nil, core.NewRetentionError(op, err)
	}

	// Audit only actual transitions; a re-run with unchanged inputs is a
	// no-op and must not duplicate records.
	if decision.Changed() {
		if err := e.appendAudit(ctx, item.ID, decision, now); err != nil {
			return nil, core.NewRetentionError(op, err)
		}
	}
	return outcome, nil
}

// RestoreFull restores an item to the full rendition.
//
// This is the only downward compression path and exists solely for explicit
// external requests; nothing in the engine calls it automatically. The full
// content is supplied by the caller, since the original lives behind the
// item's content reference in external storage.
func (e *Engine) RestoreFull(ctx context.Context, id int64, content string) error {
	const op = "RestoreFull"

	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return core.NewRetentionError(op, err)
	}
	if item.Tier == core.TierDeleted {
		return core.NewRetentionError(op, core.ErrTerminalTier)
	}
	if item.CompressionLevel == core.CompressionFull {
		return nil
	}

	full := core.CompressionFull
	update := &store.ItemUpdate{
		CompressionLevel: &full,
		Content:          &content,
	}
	if err := e.store.UpdateItem(ctx, id, update, item.Version); err != nil {
		return core.NewRetentionError(op, err)
	}
	return nil
}

// ReviewArchive moves an ARCHIVE item back into circulation.
//
// ARCHIVE is absorbing for the automatic state machine; this manual review
// call is its only exit. The target must be WARM or COLD.
func (e *Engine) ReviewArchive(ctx context.Context, id int64, to core.Tier) error {
	const op = "ReviewArchive"

	if to != core.TierWarm && to != core.TierCold {
		return core.NewRetentionError(op,
			fmt.Errorf("%w: archive review may only target WARM or COLD, got %q", core.ErrManualOnly, to))
	}

	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return core.NewRetentionError(op, err)
	}
	if item.Tier != core.TierArchive {
		return core.NewRetentionError(op,
			fmt.Errorf("%w: item is %s, not ARCHIVE", core.ErrManualOnly, item.Tier))
	}

	now := time.Now()
	from := core.TierArchive
	update := &store.ItemUpdate{
		Tier:          &to,
		PreviousTier:  &from,
		TierChangedAt: &now,
	}
	if err := e.store.UpdateItem(ctx, id, update, item.Version); err != nil {
		return core.NewRetentionError(op, err)
	}

	return core.NewRetentionError(op, e.appendAudit(ctx, id, tier.Decision{
		From:   core.TierArchive,
		To:     to,
		Reason: "manual archive review",
	}, now))
}

// Evaluations returns the audit records for an item within [from, to].
// itemID 0 matches all items.
func (e *Engine) Evaluations(ctx context.Context, itemID int64, from, to time.Time) ([]*core.EvaluationResult, error) {
	results, err := e.audit.QueryEvaluations(ctx, itemID, from, to)
	if err != nil {
		return nil, core.NewRetentionError("Evaluations", err)
	}
	return results, nil
}

// GetItem retrieves an item by id.
func (e *Engine) GetItem(ctx context.Context, id int64) (*core.MemoryItem, error) {
	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return nil, core.NewRetentionError("GetItem", err)
	}
	return item, nil
}

// Store exposes the underlying item store, which the sweep package consumes
// for pagination and checkpointing.
func (e *Engine) Store() store.ItemStore {
	return e.store
}

// Close closes the engine and releases store and compressor resources.
func (e *Engine) Close() error {
	if e.compressor != nil {
		if err := e.compressor.Close(); err != nil {
			return core.NewRetentionError("Close", err)
		}
	}
	return e.store.Close()
}

// appendAudit writes one transition record with a fresh snowflake id.
func (e *Engine) appendAudit(ctx context.Context, itemID int64, d tier.Decision, at time.Time) error {
	return e.audit.AppendEvaluation(ctx, &core.EvaluationResult{
		ID:        e.snowflakeNode.Generate().Int64(),
		ItemID:    itemID,
		FromTier:  d.From,
		ToTier:    d.To,
		Reason:    d.Reason,
		CreatedAt: at,
	})
}

// neighborSimilarities fetches the top-k neighbor similarities for the
// uniqueness signal. Items without an embedding have no neighborhood.
func (e *Engine) neighborSimilarities(ctx context.Context, item *core.MemoryItem) ([]float64, error) {
	if len(item.Embedding) == 0 {
		return nil, nil
	}
	neighbors, err := e.store.SimilarEmbeddings(ctx, item.ID, item.Embedding, e.config.Signals.TopK)
	if err != nil {
		return nil, err
	}
	sims := make([]float64, len(neighbors))
	for i, n := range neighbors {
		sims[i] = n.Similarity
	}
	return sims, nil
}

// validateItem excludes malformed items from evaluation: transitions never
// execute on corrupt input.
func (e *Engine) validateItem(item *core.MemoryItem, now time.Time) error {
	if !core.ValidTier(item.Tier) {
		return fmt.Errorf("%w: unknown tier %q", core.ErrCorruptItem, item.Tier)
	}
	if !core.ValidCompressionLevel(item.CompressionLevel) {
		return fmt.Errorf("%w: unknown compression level %q", core.ErrCorruptItem, item.CompressionLevel)
	}
	if item.AccessCount < 0 || item.ReinforcementCount < 0 {
		return fmt.Errorf("%w: negative counters", core.ErrCorruptItem)
	}
	if item.LastAccessedAt != nil && item.LastAccessedAt.After(now.Add(futureSkew)) {
		return fmt.Errorf("%w: last access in the future", core.ErrCorruptItem)
	}
	if e.config.EmbeddingDims > 0 && len(item.Embedding) > 0 && len(item.Embedding) != e.config.EmbeddingDims {
		return fmt.Errorf("%w: embedding has %d dims, want %d",
			core.ErrCorruptItem, len(item.Embedding), e.config.EmbeddingDims)
	}
	return nil
}

// validateHistory rejects malformed access histories.
func validateHistory(history []core.AccessEvent, now time.Time) error {
	for _, ev := range history {
		if ev.AccessedAt.IsZero() || ev.AccessedAt.After(now.Add(futureSkew)) {
			return fmt.Errorf("%w: malformed access history", core.ErrCorruptItem)
		}
	}
	return nil
}

// compressTo produces the rendition for the target level.
func (e *Engine) compressTo(ctx context.Context, content string, level core.CompressionLevel) (string, error) {
	switch level {
	case core.CompressionSummary:
		if e.compressor == nil {
			return content, nil
		}
		return e.compressor.Summarize(ctx, content)
	case core.CompressionKeywords:
		if e.compressor == nil {
			return content, nil
		}
		return e.compressor.Keywords(ctx, content)
	case core.CompressionEmbedding:
		// Vector-only: no text survives this level.
		return "", nil
	default:
		return content, nil
	}
}

// countSince counts events at or after the cutoff.
func countSince(history []core.AccessEvent, cutoff time.Time) int {
	n := 0
	for _, ev := range history {
		if !ev.AccessedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// getString reads a string from a provider config map.
func getString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

// getInt reads an int from a provider config map.
func getInt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
