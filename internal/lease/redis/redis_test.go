package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"fuelsync/internal/lease"
)

type fakeClient struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *goredis.BoolCmd {
	if f.err != nil {
		return goredis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *goredis.Cmd {
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func testLease(c *fakeClient) *Lease {
	n := 0
	return &Lease{rdb: c, token: func() string {
		n++
		return "token-" + string(rune('0'+n))
	}}
}

func TestAcquire_ExclusiveUntilReleased(t *testing.T) {
	t.Parallel()

	c := newFakeClient()
	l := testLease(c)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, time.Minute, c.ttls["k"])

	_, err = l.Acquire(ctx, "k", time.Minute)
	require.ErrorIs(t, err, lease.ErrLeaseHeld)

	require.NoError(t, release(ctx))
	_, ok := c.values["k"]
	require.False(t, ok)

	_, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
}

func TestRelease_DoesNotDeleteForeignToken(t *testing.T) {
	t.Parallel()

	c := newFakeClient()
	l := testLease(c)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// The lease expired and another run took the key.
	c.values["k"] = "someone-else"
	require.NoError(t, release(ctx))
	require.Equal(t, "someone-else", c.values["k"])
}

func TestAcquire_Errors(t *testing.T) {
	t.Parallel()

	c := newFakeClient()
	l := testLease(c)

	_, err := l.Acquire(context.Background(), "k", 0)
	require.Error(t, err)

	c.err = errors.New("connection refused")
	_, err = l.Acquire(context.Background(), "k", time.Minute)
	require.ErrorContains(t, err, "connection refused")
	require.False(t, errors.Is(err, lease.ErrLeaseHeld))
}
