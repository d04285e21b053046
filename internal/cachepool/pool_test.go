package cachepool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsflow/internal/logger"
)

// faultyClient wraps the local client and fails on command when tripped.
type faultyClient struct {
	Client
	fail    bool
	failErr error
	calls   int
}

func newFaultyClient() *faultyClient {
	return &faultyClient{Client: NewLocalClient(), failErr: errors.New("connection refused")}
}

func (f *faultyClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.calls++
	if f.fail {
		return f.failErr
	}
	return f.Client.Set(ctx, key, value, ttl)
}

func (f *faultyClient) Get(ctx context.Context, key string) (string, error) {
	f.calls++
	if f.fail {
		return "", f.failErr
	}
	return f.Client.Get(ctx, key)
}

func newTestPool(t *testing.T, quota int64, shards ...Client) *Pool {
	t.Helper()
	p := New(Config{DailyRequestQuota: quota}, shards, logger.NewNop())
	p.Connect(context.Background())
	return p
}

func TestPool_RoutingIsStableForAKey(t *testing.T) {
	s1, s2 := newFaultyClient(), newFaultyClient()
	p := newTestPool(t, 0, s1, s2)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "stable-key", "v1", time.Minute))
	got, err := p.Get(ctx, "stable-key")
	require.NoError(t, err)
	assert.Equal(t, "v1", got, "read must land on the shard that took the write")
}

func TestPool_ShardFailureReroutesKey(t *testing.T) {
	s1, s2 := newFaultyClient(), newFaultyClient()
	p := newTestPool(t, 0, s1, s2)
	ctx := context.Background()

	// Find a key and trip whichever shard it routes to.
	key := "reroute-me"
	owner := p.shardForKey(key)
	require.NotNil(t, owner)
	faulty := owner.client.(*faultyClient)
	faulty.fail = true

	require.NoError(t, p.Set(ctx, key, "v", time.Minute),
		"write must reroute to the surviving shard")

	// The failed shard is now unhealthy; the key routes to the alternate,
	// and future reads land there too.
	got, err := p.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestPool_QuotaBreachKillsShardForDay(t *testing.T) {
	s1 := newFaultyClient()
	p := newTestPool(t, 3, s1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = p.Set(ctx, "k", "v", 0)
	}

	stats := p.Stats()
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Dead, "shard past its daily quota must be dead")

	// Commands still succeed through the in-process fallback.
	require.NoError(t, p.Set(ctx, "k2", "v2", 0))
	got, err := p.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestPool_QuotaResetsAtUTCMidnight(t *testing.T) {
	clock := time.Date(2026, 8, 6, 23, 0, 0, 0, time.UTC)
	s1 := newFaultyClient()
	p := New(Config{
		DailyRequestQuota: 2,
		Now:               func() time.Time { return clock },
	}, []Client{s1}, logger.NewNop())
	p.Connect(context.Background())
	ctx := context.Background()

	_ = p.Set(ctx, "a", "1", 0)
	_ = p.Set(ctx, "b", "2", 0)
	require.True(t, p.Stats()[0].Dead)

	clock = clock.Add(2 * time.Hour) // past midnight

	stats := p.Stats()
	assert.False(t, stats[0].Dead, "shard must revive after UTC midnight")
	assert.Zero(t, stats[0].DailyRequests)
}

func TestPool_FallsBackToLocalWhenNoShards(t *testing.T) {
	p := NewDisabled(logger.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "k", "v", time.Minute))
	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestPool_MissIsNotAFailure(t *testing.T) {
	s1 := newFaultyClient()
	p := newTestPool(t, 0, s1)

	_, err := p.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	stats := p.Stats()
	assert.True(t, stats[0].Healthy, "a cache miss must not mark the shard unhealthy")
	assert.Zero(t, stats[0].ErrorCount)
}

func TestPool_ScatterGatherKeys(t *testing.T) {
	s1, s2 := newFaultyClient(), newFaultyClient()
	p := newTestPool(t, 0, s1, s2)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "article:1", "a", 0))
	require.NoError(t, p.Set(ctx, "article:2", "b", 0))
	require.NoError(t, p.Set(ctx, "other:1", "c", 0))

	keys, err := p.Keys(ctx, "article:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"article:1", "article:2"}, keys)
}

func TestPool_HealthCheckRevivesShard(t *testing.T) {
	s1 := newFaultyClient()
	p := newTestPool(t, 0, s1)
	ctx := context.Background()

	s1.fail = true
	_ = p.Set(ctx, "k", "v", 0) // trips unhealthy
	require.False(t, p.Stats()[0].Healthy)

	s1.fail = false
	p.HealthCheck(ctx)
	assert.True(t, p.Stats()[0].Healthy)
}
