package cachepool

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/newsflow/internal/logger"
)

const (
	healthCheckSchedule = "@every 5m"
	pingTimeout         = 10 * time.Second
)

// StartHealthLoop pings every shard on a fixed schedule, reviving shards that
// recover and picking up the UTC-midnight quota reset. Returns a stop func.
func (p *Pool) StartHealthLoop() func() {
	c := cron.New()
	_, err := c.AddFunc(healthCheckSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		p.HealthCheck(ctx)
	})
	if err != nil {
		p.log.Error("cachepool: failed to schedule health loop", logger.Error(err))
		return func() {}
	}
	c.Start()
	return func() { c.Stop() }
}

// HealthCheck re-pings every shard and refreshes health and latency.
func (p *Pool) HealthCheck(ctx context.Context) {
	p.resetIfDayRolled()
	for _, s := range p.shards {
		p.pingShard(ctx, s)
	}
}

func (p *Pool) pingShard(ctx context.Context, s *shard) {
	start := p.now()
	err := s.client.Ping(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastChecked = p.now()
	s.latency = elapsed
	if err != nil {
		s.healthy = false
		s.errorCount++
		p.log.Warn("cachepool: shard ping failed",
			logger.Int("shard", s.id),
			logger.Error(err),
		)
		return
	}
	if !s.healthy {
		p.log.Info("cachepool: shard revived",
			logger.Int("shard", s.id),
			logger.Duration("latency", elapsed),
		)
	}
	s.healthy = true
}
