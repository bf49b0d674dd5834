// Package core provides the main MemTier engine and retention management functionality.
package core

import "time"

// Tier identifies the storage tier of a memory item.
//
// Tiers describe storage locality and compression obligation:
//   - TierHot: fast, uncompressed, directly usable
//   - TierWarm: recently useful, still cheap to serve
//   - TierCold: compressed, archival candidates
//   - TierArchive: permanently retained, exits only via manual review
//   - TierDeleted: terminal, never re-evaluated
type Tier string

const (
	// TierHot is the fast, uncompressed tier for high-value items.
	TierHot Tier = "HOT"

	// TierWarm is the intermediate tier for recently useful items.
	TierWarm Tier = "WARM"

	// TierCold is the compressed tier for low-activity items.
	TierCold Tier = "COLD"

	// TierArchive permanently retains high-value items. Absorbing except
	// by explicit manual review.
	TierArchive Tier = "ARCHIVE"

	// TierDeleted is terminal. Once assigned, the item is never re-evaluated.
	TierDeleted Tier = "DELETED"
)

// ValidTier reports whether t is one of the five known tiers.
func ValidTier(t Tier) bool {
	switch t {
	case TierHot, TierWarm, TierCold, TierArchive, TierDeleted:
		return true
	}
	return false
}

// Terminal reports whether the tier admits no further automatic evaluation.
func (t Tier) Terminal() bool {
	return t == TierDeleted
}

// CompressionLevel identifies the degree of reduction applied to stored content.
//
// Levels advance monotonically full → summary → keywords → embedding.
// The only downward path is an explicit manual restore.
type CompressionLevel string

const (
	// CompressionFull stores the complete original content.
	CompressionFull CompressionLevel = "full"

	// CompressionSummary stores an abridged rendition of the content.
	CompressionSummary CompressionLevel = "summary"

	// CompressionKeywords stores only extracted key terms.
	CompressionKeywords CompressionLevel = "keywords"

	// CompressionEmbedding stores no text at all, only the vector.
	CompressionEmbedding CompressionLevel = "embedding"
)

// compressionRank orders levels for monotonicity checks.
var compressionRank = map[CompressionLevel]int{
	CompressionFull:      0,
	CompressionSummary:   1,
	CompressionKeywords:  2,
	CompressionEmbedding: 3,
}

// ValidCompressionLevel reports whether l is a known compression level.
func ValidCompressionLevel(l CompressionLevel) bool {
	_, ok := compressionRank[l]
	return ok
}

// CompressionAdvances reports whether moving from one level to another is a
// forward (automatic-eligible) step. Any other change requires a manual restore.
func CompressionAdvances(from, to CompressionLevel) bool {
	fr, ok1 := compressionRank[from]
	tr, ok2 := compressionRank[to]
	return ok1 && ok2 && tr > fr
}

// Signals holds the four normalized [0,1] retention signals for an item.
type Signals struct {
	// RetentionValue is the exponential-weighted access frequency over
	// the signal window, normalized by the saturation constant.
	RetentionValue float64 `json:"retention_value"`

	// Uniqueness is 1 minus the mean cosine similarity to the top-k most
	// similar other embeddings.
	Uniqueness float64 `json:"uniqueness"`

	// Confidence is the upstream source-reliability signal, passed through.
	Confidence float64 `json:"confidence"`

	// AccessRecency is the reinforcement-boosted recency decay signal.
	AccessRecency float64 `json:"access_recency"`
}

// MemoryItem is the unit of retention.
//
// Item state is exclusively owned by the external store; the engine computes
// decisions and applies them with optimistic-concurrency writes. Version is
// the store's expected-version counter and must round-trip unchanged through
// the decision pipeline.
type MemoryItem struct {
	// ID is the unique identifier of the item.
	ID int64 `json:"id"`

	// ContentRef references the full original content in external storage.
	ContentRef string `json:"content_ref,omitempty"`

	// Content is the current rendition at the item's compression level.
	Content string `json:"content"`

	// CreatedAt is when the item was ingested.
	CreatedAt time.Time `json:"created_at"`

	// Tier is the item's current storage tier.
	Tier Tier `json:"tier"`

	// CompressionLevel is the item's current compression level.
	// HOT items are always CompressionFull.
	CompressionLevel CompressionLevel `json:"compression_level"`

	// AccessCount is the total number of recorded accesses.
	AccessCount int `json:"access_count"`

	// ReinforcementCount is the number of reinforcement events.
	// Monotonic unless explicitly reset.
	ReinforcementCount int `json:"reinforcement_count"`

	// LastAccessedAt is when the item was last accessed (nil if never).
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// Reactivated is set when a COLD item receives an access after its
	// demotion, and cleared when the item returns to WARM.
	Reactivated bool `json:"reactivated,omitempty"`

	// Signals are the most recently computed retention signals.
	Signals Signals `json:"signals"`

	// CompositeScore is the weighted combination of the four signals,
	// rounded to 4 decimals for stable threshold comparisons.
	CompositeScore float64 `json:"composite_score"`

	// MemoryStrength is the forgetting-model strength in days.
	MemoryStrength float64 `json:"memory_strength"`

	// RetentionProbability is the modeled probability the item is still
	// recallable, per the forgetting curve.
	RetentionProbability float64 `json:"retention_probability"`

	// Embedding is the fixed-length vector for the item (opaque here).
	Embedding []float64 `json:"embedding,omitempty"`

	// PreviousTier records the tier before the last transition.
	PreviousTier Tier `json:"previous_tier,omitempty"`

	// TierChangedAt records when the last tier transition committed.
	TierChangedAt time.Time `json:"tier_changed_at,omitempty"`

	// Version is the store's optimistic-concurrency counter.
	Version int64 `json:"version"`
}

// Age returns the item's age at the given instant.
func (m *MemoryItem) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// SinceAccess returns the elapsed time since the last access, falling back
// to the creation time when the item has never been accessed.
func (m *MemoryItem) SinceAccess(now time.Time) time.Duration {
	if m.LastAccessedAt != nil {
		return now.Sub(*m.LastAccessedAt)
	}
	return now.Sub(m.CreatedAt)
}

// EvaluationResult is one append-only audit record of a tier transition.
type EvaluationResult struct {
	// ID is the unique identifier of the record.
	ID int64 `json:"id"`

	// ItemID is the evaluated item.
	ItemID int64 `json:"item_id"`

	// FromTier is the tier before the transition.
	FromTier Tier `json:"from_tier"`

	// ToTier is the tier after the transition.
	ToTier Tier `json:"to_tier"`

	// Reason is a short human-readable cause of the transition.
	Reason string `json:"reason"`

	// CreatedAt is when the transition committed.
	CreatedAt time.Time `json:"created_at"`
}

// AccessEvent is one recorded access to an item.
type AccessEvent struct {
	// ItemID is the accessed item.
	ItemID int64 `json:"item_id"`

	// AccessedAt is when the access happened.
	AccessedAt time.Time `json:"accessed_at"`
}
