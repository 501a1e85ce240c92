// Package liveness selects the per-session anti-spoofing challenge sequence.
package liveness

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"

	"kycflow/internal/verification/models"
)

// DefaultCount is the number of challenges asked per session.
const DefaultCount = 3

var ErrInvalidCount = errors.New("challenge count must be between 1 and catalog size - 1")

// Seeder fills a ChaCha8 seed. Production uses crypto/rand.
type Seeder func(seed *[32]byte) error

func cryptoSeeder(seed *[32]byte) error {
	_, err := crand.Read(seed[:])
	return err
}

// Selector draws an ordered k-subsequence of the catalog without repetition.
// Every call seeds a fresh generator, so no random state is shared between sessions.
type Selector struct {
	catalog []models.ChallengeID
	k       int
	seed    Seeder
}

type Option func(*Selector)

// WithCatalog overrides the challenge catalog. Repeated entries count once.
func WithCatalog(catalog []models.ChallengeID) Option {
	return func(s *Selector) {
		seen := make(map[models.ChallengeID]struct{}, len(catalog))
		s.catalog = make([]models.ChallengeID, 0, len(catalog))
		for _, c := range catalog {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			s.catalog = append(s.catalog, c)
		}
	}
}

// WithSeeder replaces the entropy source, for deterministic tests.
func WithSeeder(seed Seeder) Option {
	return func(s *Selector) {
		s.seed = seed
	}
}

// NewSelector returns a selector choosing k challenges; k must satisfy 0 < k < len(catalog).
func NewSelector(k int, opts ...Option) (*Selector, error) {
	s := &Selector{
		catalog: append([]models.ChallengeID(nil), models.ChallengeCatalog...),
		k:       k,
		seed:    cryptoSeeder,
	}
	for _, opt := range opts {
		opt(s)
	}
	if k <= 0 || k >= len(s.catalog) {
		return nil, fmt.Errorf("%w: k=%d catalog=%d", ErrInvalidCount, k, len(s.catalog))
	}
	return s, nil
}

// Count returns k.
func (s *Selector) Count() int { return s.k }

// Select returns a uniformly random ordered selection of k distinct challenges.
func (s *Selector) Select() ([]models.ChallengeID, error) {
	var seed [32]byte
	if err := s.seed(&seed); err != nil {
		return nil, fmt.Errorf("seed challenge selector: %w", err)
	}
	rng := rand.New(rand.NewChaCha8(seed))

	pool := append([]models.ChallengeID(nil), s.catalog...)
	// Partial Fisher-Yates: the first k positions are a uniform k-permutation.
	for i := 0; i < s.k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:s.k:s.k], nil
}
