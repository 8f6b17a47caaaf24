package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/chorus/internal/adapters/transport"
	"github.com/okian/chorus/internal/adapters/transport/redis"
	"github.com/okian/chorus/pkg/logger"
)

func dial(t *testing.T) *redis.Transport {
	t.Helper()
	addr := os.Getenv("CHORUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHORUS_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := redis.Dial(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client,
		redis.WithChannel("chorus-test:"+uuid.NewString()),
		redis.WithLogger(logger.Nop()),
	)
}

func TestTransportRoundTrip(t *testing.T) {
	tr := dial(t)
	ctx := context.Background()

	got := make(chan string, 4)
	sub, err := tr.Subscribe(ctx, func(msg []byte) { got <- string(msg) })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, []byte(`{"name":"vote_cast"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, `{"name":"vote_cast"}`, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestTransportCloseStopsDelivery(t *testing.T) {
	tr := dial(t)
	ctx := context.Background()

	got := make(chan string, 4)
	sub, err := tr.Subscribe(ctx, func(msg []byte) { got <- string(msg) })
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, tr.Publish(ctx, []byte("late")))
	select {
	case msg := <-got:
		t.Fatalf("unexpected delivery %q", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTransportNilHandler(t *testing.T) {
	tr := redis.New(nil, redis.WithLogger(logger.Nop()))
	_, err := tr.Subscribe(context.Background(), nil)
	assert.ErrorIs(t, err, transport.ErrNilHandler)
	assert.Equal(t, "chorus:events", tr.Channel())
}
