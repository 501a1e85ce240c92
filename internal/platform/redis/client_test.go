package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/platform/config"
)

func TestOpenWithoutURLDisablesCache(t *testing.T) {
	client, err := Open(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestOpenRejectsMalformedURL(t *testing.T) {
	_, err := Open(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	assert.Error(t, err)
}

func TestApplyPoolKeepsDefaultsForZeroValues(t *testing.T) {
	opts, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(t, err)
	opts.DialTimeout = time.Second

	applyPool(opts, config.RedisConfig{PoolSize: 7, ReadTimeout: 2 * time.Second})

	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, time.Second, opts.DialTimeout)
}
