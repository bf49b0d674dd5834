package scoring_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/scoring"
)

func TestNewClassifierRejectsBadWeightSum(t *testing.T) {
	_, err := scoring.NewClassifier(core.Weights{
		RetentionValue: 0.5,
		Uniqueness:     0.5,
		Confidence:     0.5,
		AccessRecency:  0.5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestNewClassifierRejectsNegativeWeight(t *testing.T) {
	_, err := scoring.NewClassifier(core.Weights{
		RetentionValue: -0.2,
		Uniqueness:     0.4,
		Confidence:     0.4,
		AccessRecency:  0.4,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestNewClassifierAcceptsDefaults(t *testing.T) {
	classifier, err := scoring.NewClassifier(core.DefaultWeights())
	require.NoError(t, err)
	assert.Equal(t, core.DefaultWeights(), classifier.Weights())
}

func TestCompositeScore(t *testing.T) {
	classifier, err := scoring.NewClassifier(core.DefaultWeights())
	require.NoError(t, err)

	// 0.35*0.8 + 0.25*0.6 + 0.20*0.9 + 0.20*0.3 = 0.67
	score := classifier.CompositeScore(core.Signals{
		RetentionValue: 0.8,
		Uniqueness:     0.6,
		Confidence:     0.9,
		AccessRecency:  0.3,
	})
	assert.InDelta(t, 0.67, score, 1e-9)
}

func TestCompositeScoreBounds(t *testing.T) {
	classifier, err := scoring.NewClassifier(core.DefaultWeights())
	require.NoError(t, err)

	assert.Equal(t, 0.0, classifier.CompositeScore(core.Signals{}))
	assert.Equal(t, 1.0, classifier.CompositeScore(core.Signals{
		RetentionValue: 1, Uniqueness: 1, Confidence: 1, AccessRecency: 1,
	}))
}

func TestCompositeScoreRoundsToFourDecimals(t *testing.T) {
	classifier, err := scoring.NewClassifier(core.Weights{
		RetentionValue: 0.25, Uniqueness: 0.25, Confidence: 0.25, AccessRecency: 0.25,
	})
	require.NoError(t, err)

	score := classifier.CompositeScore(core.Signals{
		RetentionValue: 0.33333, Uniqueness: 0.33333, Confidence: 0.33333, AccessRecency: 0.33333,
	})
	assert.Equal(t, 0.3333, score)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, scoring.Round4(0.12345))
	assert.Equal(t, 0.1234, scoring.Round4(0.12344))
	assert.Equal(t, 1.0, scoring.Round4(0.99999))
}
