//go:build integration

package callback_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/go-batchrelay/pkg/callback"
	"github.com/illmade-knight/go-batchrelay/pkg/helpers/emulators"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLedger_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)

	redisConn := emulators.SetupRedisContainer(t, ctx, emulators.GetDefaultRedisImageContainer())

	ledger, err := callback.NewRedisLedger(ctx, &callback.RedisConfig{Addr: redisConn.EmulatorAddress, TTL: time.Minute}, logger)
	require.NoError(t, err)
	defer ledger.Close()

	other, err := callback.NewRedisLedger(ctx, &callback.RedisConfig{Addr: redisConn.EmulatorAddress, TTL: time.Minute}, logger)
	require.NoError(t, err)
	defer other.Close()

	token := callback.EncodeTaskToken([]byte("integration-token"))

	t.Run("claim is shared between instances", func(t *testing.T) {
		ok, err := ledger.Claim(ctx, token)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = other.Claim(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("claim carries a ttl", func(t *testing.T) {
		rdb := redis.NewClient(&redis.Options{Addr: redisConn.EmulatorAddress})
		defer rdb.Close()
		ttl, err := rdb.TTL(ctx, "callback:"+string(token)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)
	})

	t.Run("release allows a new claim", func(t *testing.T) {
		require.NoError(t, ledger.Release(ctx, token))
		ok, err := other.Claim(ctx, token)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestNewRedisLedger_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := callback.NewRedisLedger(ctx, &callback.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
