package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestGateSerializesSubmissionsPerKey(t *testing.T) {
	gate := &Gate{Store: NewMemoryStore()}
	ctx := context.Background()

	release, err := gate.Acquire(ctx, "order:ord-1")
	require.NoError(t, err)

	_, err = gate.Acquire(ctx, "order:ord-1")
	require.ErrorIs(t, err, ErrStateConflict)

	// Another order is unaffected.
	otherRelease, err := gate.Acquire(ctx, "order:ord-2")
	require.NoError(t, err)
	otherRelease()

	release()
	release, err = gate.Acquire(ctx, "order:ord-1")
	require.NoError(t, err)
	release()
}

func TestGateReleasesThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate := &Gate{Store: &RedisStore{R: client, TTL: time.Minute}}

	ctx, cancel := context.WithCancel(context.Background())
	release, err := gate.Acquire(ctx, "order:ord-9")
	require.NoError(t, err)

	// Release still works after the request context is gone.
	cancel()
	release()

	release, err = gate.Acquire(context.Background(), "order:ord-9")
	require.NoError(t, err)
	release()
}
