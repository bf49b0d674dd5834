// Package scoring combines the four retention signals into one composite
// value score used by the tier and compression policies.
package scoring

import (
	"fmt"
	"math"

	"github.com/oceanbase/memtier-go/pkg/core"
)

// Classifier computes the composite value score of an item.
//
// The weights are fixed at construction as an immutable value; construction
// fails if they do not sum to 1.0. There is no silent renormalization, so a
// misconfigured deployment refuses to start instead of producing skewed
// scores.
//
// Example usage:
//
//	classifier, err := scoring.NewClassifier(core.DefaultWeights())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	score := classifier.CompositeScore(sig)
type Classifier struct {
	weights core.Weights
}

// NewClassifier creates a new value classifier.
//
// Parameters:
//   - weights: Per-signal weights; must sum to 1.0 with each weight in [0,1]
//
// Returns a new Classifier, or an error wrapping core.ErrInvalidConfig if
// the weights are invalid.
func NewClassifier(weights core.Weights) (*Classifier, error) {
	if math.Abs(weights.Sum()-1.0) > 1e-9 {
		return nil, core.NewRetentionError("NewClassifier",
			fmt.Errorf("%w: weights sum to %v, want 1.0", core.ErrInvalidConfig, weights.Sum()))
	}
	for _, v := range []float64{weights.RetentionValue, weights.Uniqueness, weights.Confidence, weights.AccessRecency} {
		if v < 0 || v > 1 {
			return nil, core.NewRetentionError("NewClassifier",
				fmt.Errorf("%w: weight %v out of [0,1]", core.ErrInvalidConfig, v))
		}
	}
	return &Classifier{weights: weights}, nil
}

// Weights returns a copy of the classifier's weights.
func (c *Classifier) Weights() core.Weights {
	return c.weights
}

// CompositeScore computes the weighted combination of the four signals.
//
// For any weights summing to 1.0 and signals in [0,1] the result lies in
// [0,1]. The score is rounded to 4 decimals so threshold comparisons stay
// stable across recomputation.
func (c *Classifier) CompositeScore(sig core.Signals) float64 {
	score := c.weights.RetentionValue*sig.RetentionValue +
		c.weights.Uniqueness*sig.Uniqueness +
		c.weights.Confidence*sig.Confidence +
		c.weights.AccessRecency*sig.AccessRecency
	return Round4(score)
}

// Round4 rounds a score to 4 decimal places.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
