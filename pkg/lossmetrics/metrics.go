// Package lossmetrics measures the fidelity lost at each compression step.
//
// It is an offline validator: it runs periodically over sampled items and a
// fixed query set to check that the configured compression thresholds do not
// destroy retrieval quality. Nothing here sits on the item-evaluation hot
// path; its output feeds threshold tuning.
package lossmetrics

import (
	"strings"

	"github.com/oceanbase/memtier-go/pkg/signals"
)

// Fidelity captures the per-item loss of one compression step.
type Fidelity struct {
	// SemanticPreservation is the cosine similarity between the original
	// and compressed embeddings, clamped to [0,1].
	SemanticPreservation float64 `json:"semantic_preservation"`

	// TokenEfficiency is (original_tokens / max(1, compressed_tokens))
	// scaled by semantic preservation: compression that shrinks text while
	// keeping meaning scores high, shrinkage that destroys meaning does not.
	TokenEfficiency float64 `json:"token_efficiency"`

	// OriginalTokens and CompressedTokens are the raw token counts.
	OriginalTokens   int `json:"original_tokens"`
	CompressedTokens int `json:"compressed_tokens"`
}

// SemanticPreservation returns the cosine similarity of the original and
// compressed embeddings, clamped to [0,1]. Degenerate vectors yield 0.
func SemanticPreservation(original, compressed []float64) float64 {
	sim := signals.CosineSimilarity(original, compressed)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// TokenEfficiency returns the compression-ratio gain weighted by semantic
// preservation: (original_tokens / max(1, compressed_tokens)) * preservation.
func TokenEfficiency(originalTokens, compressedTokens int, preservation float64) float64 {
	denom := compressedTokens
	if denom < 1 {
		denom = 1
	}
	return float64(originalTokens) / float64(denom) * preservation
}

// MeasureFidelity computes the full per-item fidelity record for one
// compression step.
//
// Parameters:
//   - originalText, compressedText: the two renditions
//   - originalEmb, compressedEmb: their embeddings
//
// Returns the Fidelity record.
func MeasureFidelity(originalText, compressedText string, originalEmb, compressedEmb []float64) Fidelity {
	preservation := SemanticPreservation(originalEmb, compressedEmb)
	origTokens := TokenCount(originalText)
	compTokens := TokenCount(compressedText)

	return Fidelity{
		SemanticPreservation: preservation,
		TokenEfficiency:      TokenEfficiency(origTokens, compTokens, preservation),
		OriginalTokens:       origTokens,
		CompressedTokens:     compTokens,
	}
}

// TokenCount approximates the token count of a rendition by whitespace
// fields. The real tokenizer lives in the upstream ingestion pipeline; a
// consistent approximation is all threshold tuning needs.
func TokenCount(text string) int {
	return len(strings.Fields(text))
}

// Impact is the retrieval-accuracy impact of compression for one query:
// the compressed corpus' result set measured against the uncompressed
// corpus' result set as ground truth.
type Impact struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// CompareResults computes precision/recall/F1 of the after result set
// against the before result set.
//
// Empty before and after sets agree perfectly (all three metrics 1.0);
// an empty side against a non-empty one scores 0 on the affected metric.
func CompareResults(before, after []int64) Impact {
	if len(before) == 0 && len(after) == 0 {
		return Impact{Precision: 1, Recall: 1, F1: 1}
	}

	truth := make(map[int64]bool, len(before))
	for _, id := range before {
		truth[id] = true
	}

	hits := 0
	for _, id := range after {
		if truth[id] {
			hits++
		}
	}

	var impact Impact
	if len(after) > 0 {
		impact.Precision = float64(hits) / float64(len(after))
	}
	if len(before) > 0 {
		impact.Recall = float64(hits) / float64(len(before))
	}
	if impact.Precision+impact.Recall > 0 {
		impact.F1 = 2 * impact.Precision * impact.Recall / (impact.Precision + impact.Recall)
	}
	return impact
}

// QueryComparison pairs one fixed query's result sets before and after
// compression.
type QueryComparison struct {
	// Query identifies the fixed query (free-form label).
	Query string `json:"query"`

	// Before and After are the retrieved item id sets.
	Before []int64 `json:"before"`
	After  []int64 `json:"after"`
}

// Report aggregates a validation run over the fixed query set.
type Report struct {
	// Queries holds the per-query impacts.
	Queries map[string]Impact `json:"queries"`

	// MacroPrecision, MacroRecall and MacroF1 are unweighted means over
	// the query set.
	MacroPrecision float64 `json:"macro_precision"`
	MacroRecall    float64 `json:"macro_recall"`
	MacroF1        float64 `json:"macro_f1"`
}

// EvaluateQuerySet computes per-query impacts and their macro averages.
//
// Parameters:
//   - comparisons: One entry per fixed query
//
// Returns the aggregated Report. An empty input yields an empty report.
func EvaluateQuerySet(comparisons []QueryComparison) Report {
	report := Report{Queries: make(map[string]Impact, len(comparisons))}
	if len(comparisons) == 0 {
		return report
	}

	var sumP, sumR, sumF float64
	for _, c := range comparisons {
		impact := CompareResults(c.Before, c.After)
		report.Queries[c.Query] = impact
		sumP += impact.Precision
		sumR += impact.Recall
		sumF += impact.F1
	}

	n := float64(len(comparisons))
	report.MacroPrecision = sumP / n
	report.MacroRecall = sumR / n
	report.MacroF1 = sumF / n
	return report
}
