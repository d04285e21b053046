package cachepool

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/jonesrussell/newsflow/internal/errkind"
	"github.com/jonesrussell/newsflow/internal/logger"
)

// shard is one remote cache instance plus its health bookkeeping.
type shard struct {
	id     int
	client Client

	mu            sync.Mutex
	healthy       bool
	dead          bool // daily quota exhausted, revived at UTC midnight
	dailyRequests int64
	errorCount    int64
	latency       time.Duration
	lastChecked   time.Time
}

func (s *shard) eligible(quota int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.dead && (quota <= 0 || s.dailyRequests < quota)
}

// Config tunes the pool.
type Config struct {
	// DailyRequestQuota is the per-shard daily command budget. Zero disables
	// quota tracking.
	DailyRequestQuota int64
	// Now overrides the clock for tests.
	Now func() time.Time
}

const defaultDailyRequestQuota = 9_000

// Pool fans KV/list operations out across shards. Keyed operations route by
// stable hash over the currently eligible shard set; global operations
// scatter-gather; keyless operations pick the least-loaded shard. When no
// remote shard can serve a command the in-process fallback map does.
type Pool struct {
	shards   []*shard
	local    Client
	quota    int64
	now      func() time.Time
	log      logger.Logger
	mu       sync.Mutex
	resetDay time.Time
}

// New builds a pool over the given shard clients. Pass no clients (or use
// NewDisabled) to run on the in-process map alone.
func New(cfg Config, clients []Client, log logger.Logger) *Pool {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DailyRequestQuota == 0 {
		cfg.DailyRequestQuota = defaultDailyRequestQuota
	}
	if log == nil {
		log = logger.NewNop()
	}

	shards := make([]*shard, len(clients))
	for i, c := range clients {
		shards[i] = &shard{id: i + 1, client: c}
	}

	p := &Pool{
		shards: shards,
		local:  NewLocalClient(),
		quota:  cfg.DailyRequestQuota,
		now:    cfg.Now,
		log:    log,
	}
	p.resetDay = utcDay(p.now())
	return p
}

// NewDisabled builds a pool that serves everything from the in-process map.
func NewDisabled(log logger.Logger) *Pool {
	return New(Config{DailyRequestQuota: -1}, nil, log)
}

// Connect pings every shard once and records initial health and latency.
func (p *Pool) Connect(ctx context.Context) {
	for _, s := range p.shards {
		p.pingShard(ctx, s)
	}
}

// Close closes every shard client and the local fallback.
func (p *Pool) Close() error {
	for _, s := range p.shards {
		_ = s.client.Close()
	}
	return p.local.Close()
}

// eligibleShards returns shards able to take commands, in stable id order.
func (p *Pool) eligibleShards() []*shard {
	p.resetIfDayRolled()

	var out []*shard
	for _, s := range p.shards {
		if s.eligible(p.quota) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// shardForKey routes a key over the eligible set. A given key, under a stable
// shard set, always resolves to the same shard.
func (p *Pool) shardForKey(key string) *shard {
	eligible := p.eligibleShards()
	if len(eligible) == 0 {
		return nil
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return eligible[h.Sum32()%uint32(len(eligible))]
}

// leastLoaded picks the eligible shard with the fewest commands today.
func (p *Pool) leastLoaded() *shard {
	var best *shard
	var bestLoad int64
	for _, s := range p.eligibleShards() {
		s.mu.Lock()
		load := s.dailyRequests
		s.mu.Unlock()
		if best == nil || load < bestLoad {
			best, bestLoad = s, load
		}
	}
	return best
}

// charge counts a command against the shard and marks it dead when the daily
// quota is breached.
func (p *Pool) charge(s *shard) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dailyRequests++
	if p.quota > 0 && s.dailyRequests >= p.quota && !s.dead {
		s.dead = true
		p.log.Warn("cachepool: shard hit daily quota, dead until UTC midnight",
			logger.Int("shard", s.id),
			logger.Int64("requests", s.dailyRequests),
		)
	}
}

// fail records a command error; quota-marker errors kill the shard for the
// day, anything else just flags it unhealthy until the next health pass.
func (p *Pool) fail(s *shard, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errorCount++
	if errkind.IsQuotaMessage(err) {
		s.dead = true
		p.log.Warn("cachepool: shard reported quota exceeded, dead until UTC midnight",
			logger.Int("shard", s.id),
		)
		return
	}
	s.healthy = false
	p.log.Warn("cachepool: shard command failed",
		logger.Int("shard", s.id),
		logger.Error(err),
	)
}

// keyed runs a command against the shard the key routes to, re-routing once
// if the first shard fails, then falling back to the in-process map.
func (p *Pool) keyed(key string, fn func(Client) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		s := p.shardForKey(key)
		if s == nil {
			break
		}
		p.charge(s)
		err := fn(s.client)
		if err == nil || err == ErrNotFound {
			return err
		}
		p.fail(s, err)
	}
	return fn(p.local)
}

// keyless runs a command against the least-loaded shard.
func (p *Pool) keyless(fn func(Client) error) error {
	if s := p.leastLoaded(); s != nil {
		p.charge(s)
		err := fn(s.client)
		if err == nil || err == ErrNotFound {
			return err
		}
		p.fail(s, err)
	}
	return fn(p.local)
}

// scatter runs a command against every eligible shard plus the local map.
func (p *Pool) scatter(fn func(Client) error) {
	for _, s := range p.eligibleShards() {
		p.charge(s)
		if err := fn(s.client); err != nil && err != ErrNotFound {
			p.fail(s, err)
		}
	}
	_ = fn(p.local)
}

// resetIfDayRolled revives quota-dead shards after UTC midnight.
func (p *Pool) resetIfDayRolled() {
	p.mu.Lock()
	defer p.mu.Unlock()

	today := utcDay(p.now())
	if !today.After(p.resetDay) {
		return
	}
	p.resetDay = today

	for _, s := range p.shards {
		s.mu.Lock()
		s.dailyRequests = 0
		s.dead = false
		s.mu.Unlock()
	}
	p.log.Info("cachepool: daily shard quotas reset", logger.Time("day", today))
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
