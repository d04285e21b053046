package keypool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsflow/internal/errkind"
	"github.com/jonesrussell/newsflow/internal/logger"
)

func newTestPool(t *testing.T, cfg Config, secrets ...string) *Pool {
	t.Helper()
	p, err := New(cfg, secrets, logger.NewNop())
	require.NoError(t, err)
	return p
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{}, nil, logger.NewNop())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestDispatch_RoundRobinRotation(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", DailyLimit: 100, ReservedQuantum: 1}, "k1", "k2", "k3")

	var order []string
	for i := 0; i < 6; i++ {
		err := p.Dispatch(context.Background(), func(_ context.Context, secret string) (int64, error) {
			order = append(order, secret)
			return 1, nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3"}, order)
}

func TestDispatch_RateLimitQuarantinesAndRotates(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", DailyLimit: 100, ReservedQuantum: 1}, "k1", "k2")

	var served []string
	err := p.Dispatch(context.Background(), func(_ context.Context, secret string) (int64, error) {
		served = append(served, secret)
		if secret == "k1" {
			return 0, errkind.Newf(errkind.RateLimit, "429 too many requests")
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, served)

	stats := p.Stats()
	assert.True(t, stats.Credentials[0].Dead)
	assert.False(t, stats.Credentials[0].Available)
	assert.False(t, stats.Credentials[1].Dead)
}

func TestDispatch_AllExhausted(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", DailyLimit: 100, ReservedQuantum: 1}, "k1", "k2")

	err := p.Dispatch(context.Background(), func(_ context.Context, _ string) (int64, error) {
		return 0, errkind.Newf(errkind.RateLimit, "limit exceeded")
	})
	assert.ErrorIs(t, err, ErrExhaustedAllCredentials)
	assert.Equal(t, errkind.Exhausted, errkind.Of(err))

	// Every subsequent dispatch fails immediately the same day.
	err = p.Dispatch(context.Background(), func(_ context.Context, _ string) (int64, error) {
		t.Fatal("op must not run when all credentials are dead")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrExhaustedAllCredentials)
}

func TestDispatch_AuthErrorPermanent(t *testing.T) {
	clock := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	p := newTestPool(t, Config{
		Name:            "test",
		DailyLimit:      100,
		ReservedQuantum: 1,
		Now:             func() time.Time { return clock },
	}, "bad", "good")

	err := p.Dispatch(context.Background(), func(_ context.Context, secret string) (int64, error) {
		if secret == "bad" {
			return 0, errkind.Newf(errkind.AuthError, "401 unauthorized")
		}
		return 1, nil
	})
	require.NoError(t, err)

	// The revoked credential does not revive across the midnight reset.
	clock = clock.Add(24 * time.Hour)
	var served []string
	for i := 0; i < 2; i++ {
		err := p.Dispatch(context.Background(), func(_ context.Context, secret string) (int64, error) {
			served = append(served, secret)
			return 1, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"good", "good"}, served)
}

func TestDispatch_TransientRotatesWithoutQuarantine(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", DailyLimit: 100, ReservedQuantum: 1}, "k1", "k2")

	err := p.Dispatch(context.Background(), func(_ context.Context, secret string) (int64, error) {
		if secret == "k1" {
			return 0, errkind.Newf(errkind.UpstreamTransient, "502 bad gateway")
		}
		return 1, nil
	})
	require.NoError(t, err)

	stats := p.Stats()
	assert.False(t, stats.Credentials[0].Dead, "transient failure must not quarantine")
	assert.True(t, stats.Credentials[0].Available)
}

func TestDispatch_UnknownErrorBubbles(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", DailyLimit: 100, ReservedQuantum: 1}, "k1", "k2")

	boom := errors.New("malformed payload")
	err := p.Dispatch(context.Background(), func(_ context.Context, _ string) (int64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestQuotaSafety_UsageNeverExceedsDailyLimit(t *testing.T) {
	const limit = 1000
	p := newTestPool(t, Config{Name: "test", DailyLimit: limit, ReservedQuantum: 600}, "k1", "k2")

	// Dispatch until exhaustion, charging 600 observed tokens per call.
	for {
		err := p.Dispatch(context.Background(), func(_ context.Context, _ string) (int64, error) {
			return 600, nil
		})
		if err != nil {
			assert.ErrorIs(t, err, ErrExhaustedAllCredentials)
			break
		}
	}

	for _, cred := range p.Stats().Credentials {
		assert.LessOrEqual(t, cred.UsedToday, int64(limit),
			"credential %d exceeded its daily limit", cred.ID)
	}
}

func TestSelection_SkipsOverQuotaUsesLeastUsedLastResort(t *testing.T) {
	// Limit 1000, quantum 600: after one 600-token call a credential no
	// longer clears the eligibility check, but remains a last resort.
	p := newTestPool(t, Config{Name: "test", DailyLimit: 1000, ReservedQuantum: 600}, "k1", "k2")

	var served []string
	for i := 0; i < 4; i++ {
		err := p.Dispatch(context.Background(), func(_ context.Context, secret string) (int64, error) {
			served = append(served, secret)
			return 600, nil
		})
		require.NoError(t, err)
	}

	// Calls three and four had no eligible credential; the least-used
	// last-resort path served them up to the hard limit.
	assert.Len(t, served, 4)

	err := p.Dispatch(context.Background(), func(_ context.Context, _ string) (int64, error) {
		return 600, nil
	})
	assert.ErrorIs(t, err, ErrExhaustedAllCredentials,
		"both credentials at their hard limit must exhaust the pool")
}

func TestReset_CountersZeroAndDeadClearsAfterUTCMidnight(t *testing.T) {
	clock := time.Date(2026, 8, 6, 23, 30, 0, 0, time.UTC)
	p := newTestPool(t, Config{
		Name:            "test",
		DailyLimit:      10,
		ReservedQuantum: 1,
		Now:             func() time.Time { return clock },
	}, "k1", "k2")

	// Exhaust both credentials before midnight.
	err := p.Dispatch(context.Background(), func(_ context.Context, _ string) (int64, error) {
		return 0, errkind.Newf(errkind.RateLimit, "limit exceeded")
	})
	require.ErrorIs(t, err, ErrExhaustedAllCredentials)

	// Cross the UTC midnight boundary.
	clock = clock.Add(time.Hour)

	err = p.Dispatch(context.Background(), func(_ context.Context, _ string) (int64, error) {
		return 1, nil
	})
	require.NoError(t, err, "first operation after reset must find live credentials")

	stats := p.Stats()
	for i, cred := range stats.Credentials {
		assert.False(t, cred.Dead, "credential %d still dead after reset", i+1)
		if cred.Requests == 0 {
			assert.Zero(t, cred.UsedToday)
		}
	}
}

func TestStats_ReportsNextReset(t *testing.T) {
	clock := time.Date(2026, 8, 6, 15, 0, 0, 0, time.UTC)
	p := newTestPool(t, Config{
		Name:       "test",
		DailyLimit: 10,
		Now:        func() time.Time { return clock },
	}, "k1")

	stats := p.Stats()
	assert.Equal(t, time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC), stats.NextReset)
	assert.Equal(t, "test", stats.Pool)
}

func TestDispatch_QuotaMarkerMessageTreatedAsRateLimit(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", DailyLimit: 100, ReservedQuantum: 1}, "k1", "k2")

	err := p.Dispatch(context.Background(), func(_ context.Context, secret string) (int64, error) {
		if secret == "k1" {
			return 0, errors.New("provider says: daily request limit reached, limit exceeded")
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.True(t, p.Stats().Credentials[0].Dead)
}
