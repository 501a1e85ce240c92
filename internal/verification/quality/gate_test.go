package quality

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/verification/models"
)

func TestClassifyDefaults(t *testing.T) {
	g := DefaultGate()

	tests := []struct {
		name     string
		score    float64
		kind     models.ScoreKind
		outcome  Outcome
		feedback []FeedbackCode
	}{
		{"document at pass threshold", 0.70, models.KindDocument, OutcomePass, nil},
		{"document in blur and lighting bands", 0.55, models.KindDocument, OutcomeRetry, []FeedbackCode{FeedbackBlur, FeedbackLighting}},
		{"document just under pass", 0.65, models.KindDocument, OutcomeRetry, []FeedbackCode{FeedbackLighting}},
		{"document with every band", 0.40, models.KindDocument, OutcomeRetry, []FeedbackCode{FeedbackDistanceTooFar, FeedbackBlur, FeedbackLighting}},
		{"document below floor", 0.29, models.KindDocument, OutcomeFail, nil},
		{"document at floor retries", 0.30, models.KindDocument, OutcomeRetry, []FeedbackCode{FeedbackDistanceTooFar, FeedbackBlur, FeedbackLighting}},
		{"liveness pass", 0.90, models.KindLiveness, OutcomePass, nil},
		{"match retry reports mismatch", 0.74, models.KindMatch, OutcomeRetry, []FeedbackCode{FeedbackFaceMismatch}},
		{"match pass", 0.75, models.KindMatch, OutcomePass, nil},
		{"overall pass", 0.75, models.KindOverall, OutcomePass, nil},
		{"overall has no retry band", 0.74, models.KindOverall, OutcomeFail, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.Classify(tt.score, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.feedback, res.Feedback)
		})
	}
}

func TestClassifyRejectsOutOfRange(t *testing.T) {
	g := DefaultGate()
	for _, score := range []float64{-0.0001, 1.0001, math.NaN(), math.Inf(-1)} {
		_, err := g.Classify(score, models.KindDocument)
		assert.ErrorIs(t, err, ErrScoreOutOfRange, "score %v", score)
	}
}

func TestClassifyUnknownKind(t *testing.T) {
	_, err := DefaultGate().Classify(0.5, models.ScoreKind("voice"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNewGateRejectsInvertedThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.Document.Floor = 0.8
	_, err := NewGate(th)
	assert.Error(t, err)
}

func TestLoadThresholdsOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
document:
  pass: 0.8
  floor: 0.4
overall:
  pass: 0.8
`), 0o600))

	th, err := LoadThresholds(path)
	require.NoError(t, err)

	assert.Equal(t, Threshold{Pass: 0.8, Floor: 0.4}, th.Document)
	assert.Equal(t, DefaultThresholds().Match, th.Match)
	assert.Equal(t, 0.8, th.Overall.Floor)
	assert.Len(t, th.Bands, 3)
}

func TestLoadThresholdsEmptyPath(t *testing.T) {
	th, err := LoadThresholds("")
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), th)
}
