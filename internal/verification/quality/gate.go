// Package quality classifies oracle scores into pass, retry or fail.
package quality

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"kycflow/internal/verification/models"
)

var (
	// ErrScoreOutOfRange is an oracle contract violation: scores must be finite and in [0,1].
	ErrScoreOutOfRange = errors.New("score out of range [0,1]")
	ErrUnknownKind     = errors.New("unknown score kind")
)

// Outcome is the gate decision for one score.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeRetry Outcome = "retry"
	OutcomeFail  Outcome = "fail"
)

// FeedbackCode is actionable guidance surfaced to the user on retry.
type FeedbackCode string

const (
	FeedbackDistanceTooFar FeedbackCode = "distance_too_far"
	FeedbackBlur           FeedbackCode = "blur"
	FeedbackLighting       FeedbackCode = "lighting"
	FeedbackFaceMismatch   FeedbackCode = "face_mismatch"
)

// Result is the classification of one score.
type Result struct {
	Outcome  Outcome        `json:"outcome"`
	Feedback []FeedbackCode `json:"feedback,omitempty"`
}

// Threshold gates one kind of score: >= Pass passes, < Floor fails, anything
// between is a retry.
type Threshold struct {
	Pass  float64 `yaml:"pass"`
	Floor float64 `yaml:"floor"`
}

// Band adds Code to a retry when the score is below Below. Bands are additive.
type Band struct {
	Below float64      `yaml:"below"`
	Code  FeedbackCode `yaml:"code"`
}

// Thresholds configures the gate. Overall is pass/fail only, its Floor is ignored.
type Thresholds struct {
	Document Threshold `yaml:"document"`
	Liveness Threshold `yaml:"liveness"`
	Match    Threshold `yaml:"match"`
	Overall  Threshold `yaml:"overall"`
	Bands    []Band    `yaml:"feedback_bands"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Document: Threshold{Pass: 0.70, Floor: 0.30},
		Liveness: Threshold{Pass: 0.70, Floor: 0.30},
		Match:    Threshold{Pass: 0.75, Floor: 0.30},
		Overall:  Threshold{Pass: 0.75, Floor: 0.75},
		Bands: []Band{
			{Below: 0.50, Code: FeedbackDistanceTooFar},
			{Below: 0.60, Code: FeedbackBlur},
			{Below: 0.70, Code: FeedbackLighting},
		},
	}
}

// LoadThresholds overlays the YAML file at path onto the defaults. An empty
// path returns the defaults.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read thresholds file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Thresholds{}, fmt.Errorf("parse thresholds file: %w", err)
	}
	t.Overall.Floor = t.Overall.Pass
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

// Validate checks 0 <= floor <= pass <= 1 for every kind and band bounds.
func (t Thresholds) Validate() error {
	for kind, th := range map[models.ScoreKind]Threshold{
		models.KindDocument: t.Document,
		models.KindLiveness: t.Liveness,
		models.KindMatch:    t.Match,
	} {
		if !models.ValidScore(th.Pass) || !models.ValidScore(th.Floor) || th.Floor > th.Pass {
			return fmt.Errorf("invalid %s threshold: pass=%v floor=%v", kind, th.Pass, th.Floor)
		}
	}
	if !models.ValidScore(t.Overall.Pass) {
		return fmt.Errorf("invalid overall threshold: pass=%v", t.Overall.Pass)
	}
	for _, b := range t.Bands {
		if !models.ValidScore(b.Below) || b.Code == "" {
			return fmt.Errorf("invalid feedback band: below=%v code=%q", b.Below, b.Code)
		}
	}
	return nil
}

// Gate is a pure classifier; it is safe for concurrent use.
type Gate struct {
	t Thresholds
}

// NewGate validates t and returns a Gate.
func NewGate(t Thresholds) (*Gate, error) {
	t.Overall.Floor = t.Overall.Pass
	if err := t.Validate(); err != nil {
		return nil, err
	}
	bands := append([]Band(nil), t.Bands...)
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].Below < bands[j].Below })
	t.Bands = bands
	return &Gate{t: t}, nil
}

// DefaultGate returns a gate over DefaultThresholds.
func DefaultGate() *Gate {
	g, err := NewGate(DefaultThresholds())
	if err != nil {
		panic(err)
	}
	return g
}

// Thresholds returns the active configuration.
func (g *Gate) Thresholds() Thresholds { return g.t }

// Threshold returns the threshold for kind.
func (g *Gate) Threshold(kind models.ScoreKind) (Threshold, error) {
	switch kind {
	case models.KindDocument:
		return g.t.Document, nil
	case models.KindLiveness:
		return g.t.Liveness, nil
	case models.KindMatch:
		return g.t.Match, nil
	case models.KindOverall:
		return g.t.Overall, nil
	default:
		return Threshold{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Classify gates score for kind. Scores outside [0,1] are rejected, never clamped.
func (g *Gate) Classify(score float64, kind models.ScoreKind) (Result, error) {
	if !models.ValidScore(score) {
		return Result{}, fmt.Errorf("%w: %s score %v", ErrScoreOutOfRange, kind, score)
	}
	th, err := g.Threshold(kind)
	if err != nil {
		return Result{}, err
	}
	switch {
	case score >= th.Pass:
		return Result{Outcome: OutcomePass}, nil
	case score < th.Floor:
		return Result{Outcome: OutcomeFail}, nil
	}
	return Result{Outcome: OutcomeRetry, Feedback: g.feedback(score, kind)}, nil
}

func (g *Gate) feedback(score float64, kind models.ScoreKind) []FeedbackCode {
	if kind == models.KindMatch {
		return []FeedbackCode{FeedbackFaceMismatch}
	}
	var codes []FeedbackCode
	for _, b := range g.t.Bands {
		if score < b.Below {
			codes = append(codes, b.Code)
		}
	}
	return codes
}
