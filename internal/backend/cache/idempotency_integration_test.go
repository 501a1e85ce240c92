//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycflow/internal/backend/cache"
	id "kycflow/pkg/domain"
	"kycflow/pkg/testutil/containers"
)

type IdempotencySuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.Idempotency
}

func TestIdempotencySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(IdempotencySuite))
}

func (s *IdempotencySuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = cache.NewIdempotency(s.redis.Client, time.Minute)
}

func (s *IdempotencySuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *IdempotencySuite) TestMissThenHit() {
	ctx := context.Background()
	sid := id.NewSessionID()

	got, err := s.cache.Lookup(ctx, sid)
	s.Require().NoError(err)
	s.Empty(got)

	s.Require().NoError(s.cache.Remember(ctx, sid, "v-1"))
	got, err = s.cache.Lookup(ctx, sid)
	s.Require().NoError(err)
	s.Equal("v-1", got)
}

func (s *IdempotencySuite) TestRememberKeepsFirstValue() {
	ctx := context.Background()
	sid := id.NewSessionID()
	s.Require().NoError(s.cache.Remember(ctx, sid, "v-1"))
	s.Require().NoError(s.cache.Remember(ctx, sid, "v-2"))

	got, err := s.cache.Lookup(ctx, sid)
	s.Require().NoError(err)
	s.Equal("v-1", got)
}

func (s *IdempotencySuite) TestEntriesExpire() {
	ctx := context.Background()
	sid := id.NewSessionID()
	short := cache.NewIdempotency(s.redis.Client, 50*time.Millisecond)
	s.Require().NoError(short.Remember(ctx, sid, "v-1"))

	s.Eventually(func() bool {
		got, err := short.Lookup(ctx, sid)
		return err == nil && got == ""
	}, 2*time.Second, 25*time.Millisecond)
}
