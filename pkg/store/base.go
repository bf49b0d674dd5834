// Package store provides interfaces and types for item storage backends.
//
// It defines the narrow ItemStore interface the retention engine consumes,
// along with the filter and update types shared by all implementations.
// The engine never mutates item state directly; every transition is an
// expected-version compare-and-swap against one of these backends.
package store

import (
	"context"
	"time"

	"github.com/oceanbase/memtier-go/pkg/core"
)

// Filter selects items for query operations.
//
// Queries return items in ascending id order, which is what the sweep's
// checkpointing relies on.
type Filter struct {
	// Tiers restricts results to the given tiers. Empty means all
	// non-terminal tiers (DELETED items are never returned).
	Tiers []core.Tier

	// AfterID restricts results to items with id > AfterID.
	AfterID int64

	// Limit sets the maximum number of results to return. 0 means no limit.
	Limit int
}

// ItemUpdate describes a partial item update. Nil fields are left unchanged.
//
// The store applies the update only when the item's version matches the
// expected version, bumping the version on success. A mismatch returns
// core.ErrVersionConflict without modifying the row.
type ItemUpdate struct {
	// Tier, PreviousTier and TierChangedAt change together on a tier
	// transition.
	Tier          *core.Tier
	PreviousTier  *core.Tier
	TierChangedAt *time.Time

	// CompressionLevel and Content change together on a compression step
	// or a manual restore.
	CompressionLevel *core.CompressionLevel
	Content          *string

	// Signals and derived scores refresh on every evaluation commit.
	Signals              *core.Signals
	CompositeScore       *float64
	MemoryStrength       *float64
	RetentionProbability *float64

	// Reactivated clears when a COLD item returns to WARM.
	Reactivated *bool
}

// Empty reports whether the update would change nothing.
func (u *ItemUpdate) Empty() bool {
	return u.Tier == nil && u.PreviousTier == nil && u.TierChangedAt == nil &&
		u.CompressionLevel == nil && u.Content == nil && u.Signals == nil &&
		u.CompositeScore == nil && u.MemoryStrength == nil &&
		u.RetentionProbability == nil && u.Reactivated == nil
}

// Neighbor is a similarity-scored neighbor embedding of an item.
type Neighbor struct {
	// ItemID identifies the neighboring item.
	ItemID int64

	// Similarity is the cosine similarity to the query item's embedding.
	Similarity float64
}

// ItemStore defines the interface for item storage backends.
//
// All storage implementations (SQLite, PostgreSQL, MySQL) must implement
// this interface. Writes guarded by expectedVersion return
// core.ErrVersionConflict when the row has moved; callers retry with
// bounded backoff and defer to the next sweep on exhaustion.
type ItemStore interface {
	// InsertItem inserts a new item and assigns its initial version.
	InsertItem(ctx context.Context, item *core.MemoryItem) error

	// GetItem retrieves an item by id, including its current version.
	// Returns core.ErrNotFound if no such item exists.
	GetItem(ctx context.Context, id int64) (*core.MemoryItem, error)

	// QueryItems retrieves items matching the filter in ascending id order.
	// DELETED items are never returned.
	QueryItems(ctx context.Context, filter *Filter) ([]*core.MemoryItem, error)

	// UpdateItem applies a partial update if the item's version equals
	// expectedVersion. Returns core.ErrVersionConflict on mismatch.
	UpdateItem(ctx context.Context, id int64, update *ItemUpdate, expectedVersion int64) error

	// DeleteItem marks an item DELETED if and only if its version still
	// equals expectedVersion and its access count still equals
	// expectedAccessCount. A concurrent access between the eligibility
	// check and this commit fails the guard with core.ErrPreconditionFailed.
	DeleteItem(ctx context.Context, id int64, expectedVersion int64, expectedAccessCount int) error

	// RecordAccess applies one access event: it appends an access row,
	// increments the access and reinforcement counters, stamps the access
	// time, and sets the reactivation flag when the item is COLD. The
	// increment is commutative and ignores the version counter, so access
	// events never conflict with a concurrent sweep.
	RecordAccess(ctx context.Context, id int64, at time.Time) error

	// AccessHistory returns the item's access events at or after since,
	// newest last.
	AccessHistory(ctx context.Context, id int64, since time.Time) ([]core.AccessEvent, error)

	// SimilarEmbeddings returns up to topK neighbors of the given item by
	// cosine similarity of stored embeddings, excluding the item itself.
	SimilarEmbeddings(ctx context.Context, id int64, embedding []float64, topK int) ([]Neighbor, error)

	// Close closes the store and releases resources.
	Close() error
}

// AuditLog is the append-only evaluation trail.
//
// All bundled SQL stores implement AuditLog alongside ItemStore; the engine
// asserts for it at construction.
type AuditLog interface {
	// AppendEvaluation appends one transition record.
	AppendEvaluation(ctx context.Context, result *core.EvaluationResult) error

	// QueryEvaluations returns records for an item within [from, to],
	// oldest first. itemID 0 matches all items.
	QueryEvaluations(ctx context.Context, itemID int64, from, to time.Time) ([]*core.EvaluationResult, error)
}

// Checkpoints persists sweep progress so a cancelled or overlong sweep
// resumes without skipping or duplicating items.
type Checkpoints interface {
	// LoadCheckpoint returns the last committed item id for the named
	// sweep, or 0 if the sweep has never run.
	LoadCheckpoint(ctx context.Context, name string) (int64, error)

	// SaveCheckpoint records the last item id whose evaluation committed.
	SaveCheckpoint(ctx context.Context, name string, lastID int64) error

	// ClearCheckpoint resets the named sweep to the start of the id space.
	ClearCheckpoint(ctx context.Context, name string) error
}
