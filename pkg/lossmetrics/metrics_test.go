package lossmetrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/memtier-go/pkg/lossmetrics"
)

func TestSemanticPreservation(t *testing.T) {
	assert.InDelta(t, 1.0, lossmetrics.SemanticPreservation([]float64{1, 2}, []float64{2, 4}), 1e-9)
	// opposed vectors clamp to 0 rather than going negative
	assert.Equal(t, 0.0, lossmetrics.SemanticPreservation([]float64{1, 0}, []float64{-1, 0}))
	assert.Equal(t, 0.0, lossmetrics.SemanticPreservation(nil, []float64{1}))
}

func TestTokenEfficiency(t *testing.T) {
	// 100 -> 20 tokens at 0.9 preservation
	assert.InDelta(t, 4.5, lossmetrics.TokenEfficiency(100, 20, 0.9), 1e-9)
	// zero compressed tokens never divide by zero
	assert.InDelta(t, 100.0, lossmetrics.TokenEfficiency(100, 0, 1.0), 1e-9)
	// destroyed meaning zeroes the gain
	assert.Equal(t, 0.0, lossmetrics.TokenEfficiency(100, 20, 0.0))
}

func TestMeasureFidelity(t *testing.T) {
	f := lossmetrics.MeasureFidelity(
		"the quick brown fox jumps over the lazy dog",
		"quick fox dog",
		[]float64{1, 0}, []float64{1, 0},
	)
	assert.Equal(t, 9, f.OriginalTokens)
	assert.Equal(t, 3, f.CompressedTokens)
	assert.InDelta(t, 1.0, f.SemanticPreservation, 1e-9)
	assert.InDelta(t, 3.0, f.TokenEfficiency, 1e-9)
}

func TestCompareResultsBothEmpty(t *testing.T) {
	impact := lossmetrics.CompareResults(nil, nil)
	assert.Equal(t, 1.0, impact.Precision)
	assert.Equal(t, 1.0, impact.Recall)
	assert.Equal(t, 1.0, impact.F1)
}

func TestCompareResultsPerfectAgreement(t *testing.T) {
	impact := lossmetrics.CompareResults([]int64{1, 2, 3}, []int64{1, 2, 3})
	assert.Equal(t, 1.0, impact.Precision)
	assert.Equal(t, 1.0, impact.Recall)
	assert.Equal(t, 1.0, impact.F1)
}

func TestCompareResultsPartialOverlap(t *testing.T) {
	// after finds {1,2,4}: 2 of 3 are right, 2 of 3 truth recovered
	impact := lossmetrics.CompareResults([]int64{1, 2, 3}, []int64{1, 2, 4})
	assert.InDelta(t, 2.0/3.0, impact.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, impact.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, impact.F1, 1e-9)
}

func TestCompareResultsEmptyAfter(t *testing.T) {
	impact := lossmetrics.CompareResults([]int64{1, 2}, nil)
	assert.Equal(t, 0.0, impact.Precision)
	assert.Equal(t, 0.0, impact.Recall)
	assert.Equal(t, 0.0, impact.F1)
}

func TestEvaluateQuerySet(t *testing.T) {
	report := lossmetrics.EvaluateQuerySet([]lossmetrics.QueryComparison{
		{Query: "q1", Before: []int64{1, 2}, After: []int64{1, 2}},
		{Query: "q2", Before: []int64{1, 2}, After: nil},
	})

	assert.Len(t, report.Queries, 2)
	assert.InDelta(t, 0.5, report.MacroPrecision, 1e-9)
	assert.InDelta(t, 0.5, report.MacroRecall, 1e-9)
	assert.InDelta(t, 0.5, report.MacroF1, 1e-9)
}

func TestEvaluateQuerySetEmpty(t *testing.T) {
	report := lossmetrics.EvaluateQuerySet(nil)
	assert.Empty(t, report.Queries)
	assert.Equal(t, 0.0, report.MacroF1)
}

func TestTokenCount(t *testing.T) {
	assert.Equal(t, 0, lossmetrics.TokenCount(""))
	assert.Equal(t, 0, lossmetrics.TokenCount("   "))
	assert.Equal(t, 3, lossmetrics.TokenCount("one two three"))
}
