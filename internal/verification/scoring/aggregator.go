// Package scoring combines per-stage scores into the session verdict.
package scoring

import (
	"errors"
	"fmt"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/quality"
)

var ErrNoStages = errors.New("no stage scores to aggregate")

// Grade is a display label for the overall score. It never gates the verdict.
type Grade string

const (
	GradeExcellent Grade = "Excellent"
	GradeGood      Grade = "Good"
	GradeFair      Grade = "Fair"
	GradePoor      Grade = "Poor"
)

// GradeFor maps an overall score to its label.
func GradeFor(overall float64) Grade {
	switch {
	case overall >= 0.90:
		return GradeExcellent
	case overall >= 0.80:
		return GradeGood
	case overall >= 0.70:
		return GradeFair
	default:
		return GradePoor
	}
}

// Verdict is the aggregation result.
type Verdict struct {
	Overall float64                              `json:"overall"`
	Pass    bool                                 `json:"pass"`
	Grade   Grade                                `json:"grade"`
	Stages  map[models.ScoreKind]quality.Outcome `json:"stages"`
}

// Aggregator averages stage scores and applies the overall threshold.
type Aggregator struct {
	gate *quality.Gate
}

func NewAggregator(gate *quality.Gate) *Aggregator {
	return &Aggregator{gate: gate}
}

// Aggregate returns the mean of the stage scores. The verdict passes only if
// the mean clears the overall threshold and every stage classified pass.
func (a *Aggregator) Aggregate(stages []models.StageScore) (Verdict, error) {
	if len(stages) == 0 {
		return Verdict{}, ErrNoStages
	}
	v := Verdict{Pass: true, Stages: make(map[models.ScoreKind]quality.Outcome, len(stages))}

	var sum float64
	for _, st := range stages {
		res, err := a.gate.Classify(st.Score, st.Kind)
		if err != nil {
			return Verdict{}, fmt.Errorf("aggregate %s: %w", st.Kind, err)
		}
		v.Stages[st.Kind] = res.Outcome
		if res.Outcome != quality.OutcomePass {
			v.Pass = false
		}
		sum += st.Score
	}
	v.Overall = sum / float64(len(stages))

	overall, err := a.gate.Classify(v.Overall, models.KindOverall)
	if err != nil {
		return Verdict{}, err
	}
	if overall.Outcome != quality.OutcomePass {
		v.Pass = false
	}
	v.Grade = GradeFor(v.Overall)
	return v, nil
}
