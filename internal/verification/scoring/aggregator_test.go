package scoring

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/quality"
)

func stages(doc, live, match float64) []models.StageScore {
	return []models.StageScore{
		{Kind: models.KindDocument, Score: doc},
		{Kind: models.KindLiveness, Score: live},
		{Kind: models.KindMatch, Score: match},
	}
}

func TestAggregateReferenceCase(t *testing.T) {
	a := NewAggregator(quality.DefaultGate())

	v, err := a.Aggregate(stages(0.85, 0.90, 0.80))
	require.NoError(t, err)

	assert.InDelta(t, 0.85, v.Overall, 1e-9)
	assert.True(t, v.Pass)
	assert.Equal(t, GradeGood, v.Grade)
}

func TestAggregateFailsWhenAnyStageDidNotPass(t *testing.T) {
	a := NewAggregator(quality.DefaultGate())

	// Mean 0.8 clears the overall threshold but the match stage is a retry.
	v, err := a.Aggregate(stages(0.95, 0.95, 0.50))
	require.NoError(t, err)

	assert.False(t, v.Pass)
	assert.Equal(t, quality.OutcomeRetry, v.Stages[models.KindMatch])
}

func TestAggregateFailsBelowOverallThreshold(t *testing.T) {
	a := NewAggregator(quality.DefaultGate())

	v, err := a.Aggregate(stages(0.70, 0.72, 0.76))
	require.NoError(t, err)

	assert.False(t, v.Pass)
	assert.Equal(t, GradeFair, v.Grade)
}

func TestAggregateRejectsInvalidInput(t *testing.T) {
	a := NewAggregator(quality.DefaultGate())

	_, err := a.Aggregate(nil)
	assert.ErrorIs(t, err, ErrNoStages)

	_, err = a.Aggregate(stages(0.9, 1.5, 0.9))
	assert.ErrorIs(t, err, quality.ErrScoreOutOfRange)
}

func TestAggregateStaysInRange(t *testing.T) {
	a := NewAggregator(quality.DefaultGate())
	rng := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		v, err := a.Aggregate(stages(rng.Float64(), rng.Float64(), rng.Float64()))
		require.NoError(t, err)
		assert.True(t, models.ValidScore(v.Overall))
	}
}

func TestGradeFor(t *testing.T) {
	assert.Equal(t, GradeExcellent, GradeFor(0.90))
	assert.Equal(t, GradeGood, GradeFor(0.80))
	assert.Equal(t, GradeFair, GradeFor(0.70))
	assert.Equal(t, GradePoor, GradeFor(0.69))
}
