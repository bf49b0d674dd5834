// Package signals derives the four normalized retention signals for a
// memory item from raw access history and embedding neighborhoods.
//
// All signal outputs are clamped to [0,1]. Degenerate inputs (empty history,
// zero-norm vectors, missing neighbors) yield well-defined values rather
// than errors; structural validation of item data happens upstream.
package signals

import (
	"math"
	"time"

	"github.com/oceanbase/memtier-go/pkg/core"
)

const hoursPerDay = 24.0

// Calculator derives retention signals from raw item data.
//
// Example usage:
//
//	calc := signals.NewCalculator(core.DefaultSignalConfig())
//	sig := calc.Compute(item, history, neighborSims, confidence, time.Now())
type Calculator struct {
	// cfg holds the window, decay and saturation parameters.
	cfg core.SignalConfig
}

// NewCalculator creates a new signal calculator.
//
// Parameters:
//   - cfg: Signal derivation settings (window, decay, saturation, top-k, λ)
//
// Returns a new Calculator.
func NewCalculator(cfg core.SignalConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Compute derives all four signals for an item at the given instant.
//
// Parameters:
//   - item: The item under evaluation (recency inputs)
//   - history: Access events within the signal window (frequency input)
//   - neighborSims: Cosine similarities of the top-k most similar other
//     embeddings (uniqueness input)
//   - confidence: The upstream source-reliability signal
//   - now: Evaluation instant
//
// Returns the four signals, each clamped to [0,1].
func (c *Calculator) Compute(item *core.MemoryItem, history []core.AccessEvent, neighborSims []float64, confidence float64, now time.Time) core.Signals {
	return core.Signals{
		RetentionValue: c.RetentionValue(history, now),
		Uniqueness:     c.Uniqueness(neighborSims),
		Confidence:     c.Confidence(confidence),
		AccessRecency:  c.AccessRecency(item, now),
	}
}

// RetentionValue computes the exponential-weighted access frequency.
//
// Each access inside the window contributes exp(-decay * age_days); the sum
// is normalized by the saturation constant (default: 20 weighted accesses
// map to 1.0) and clamped to [0,1]. An empty history yields 0.0.
func (c *Calculator) RetentionValue(history []core.AccessEvent, now time.Time) float64 {
	if len(history) == 0 {
		return 0.0
	}

	window := time.Duration(c.cfg.WindowDays * float64(24*time.Hour))
	cutoff := now.Add(-window)

	weighted := 0.0
	for _, ev := range history {
		if ev.AccessedAt.Before(cutoff) || ev.AccessedAt.After(now) {
			continue
		}
		ageDays := now.Sub(ev.AccessedAt).Hours() / hoursPerDay
		weighted += math.Exp(-c.cfg.FrequencyDecay * ageDays)
	}

	return clamp01(weighted / c.cfg.Saturation)
}

// Uniqueness computes 1 minus the mean cosine similarity to the most
// similar other embeddings.
//
// Fewer than 2 comparison embeddings yield 1.0 (unique by default).
// The result is clamped to be non-negative.
func (c *Calculator) Uniqueness(neighborSims []float64) float64 {
	if len(neighborSims) < 2 {
		return 1.0
	}

	n := len(neighborSims)
	if n > c.cfg.TopK {
		n = c.cfg.TopK
	}
	sum := 0.0
	for _, s := range neighborSims[:n] {
		sum += s
	}

	return clamp01(1.0 - sum/float64(n))
}

// Confidence passes the upstream source-reliability signal through,
// clamped to [0,1].
func (c *Calculator) Confidence(raw float64) float64 {
	return clamp01(raw)
}

// AccessRecency computes the reinforcement-boosted recency signal:
//
//	min(1.0, exp(-λ * days_since_access) * (1 + boost * reinforcement_count))
//
// Items never accessed measure from their creation time.
func (c *Calculator) AccessRecency(item *core.MemoryItem, now time.Time) float64 {
	days := item.SinceAccess(now).Hours() / hoursPerDay
	if days < 0 {
		days = 0
	}
	boost := 1.0 + c.cfg.ReinforcementBoost*float64(item.ReinforcementCount)
	return clamp01(math.Exp(-c.cfg.RecencyLambda*days) * boost)
}

// CosineSimilarity returns the cosine similarity of two vectors.
//
// Mismatched lengths or zero-norm vectors yield 0, never an error or a
// division by zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clamp01 clamps v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
