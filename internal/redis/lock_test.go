package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/gp-appointment-portal/internal/config"
)

func TestLocalSlotLockerFailsFastWhenHeld(t *testing.T) {
	l := NewLocalSlotLocker()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.WithSlotLock(ctx, 7, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := l.WithSlotLock(ctx, 7, func(context.Context) error {
		t.Fatal("lock should be held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// other slots are independent
	assert.NoError(t, l.WithSlotLock(ctx, 8, func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, <-done)

	ran := false
	require.NoError(t, l.WithSlotLock(ctx, 7, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestLocalSlotLockerReleasesOnError(t *testing.T) {
	l := NewLocalSlotLocker()
	ctx := context.Background()
	boom := assert.AnError

	assert.ErrorIs(t, l.WithSlotLock(ctx, 1, func(context.Context) error { return boom }), boom)
	assert.NoError(t, l.WithSlotLock(ctx, 1, func(context.Context) error { return nil }))
}

func TestNopLockerRunsFn(t *testing.T) {
	calls := 0
	err := NopLocker{}.WithSlotLock(context.Background(), 1, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRedisSlotLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, config.Config{RedisAddr: addr, LockTTL: 2 * time.Second}, "gp-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Del(ctx, slotLockKey(99)).Err())

	l := NewRedisSlotLocker(client, 2*time.Second)
	err = l.WithSlotLock(ctx, 99, func(ctx context.Context) error {
		inner := l.WithSlotLock(ctx, 99, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	n, err := client.Exists(ctx, slotLockKey(99)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
