package cachepool

import "time"

// ShardStats is the per-shard observability snapshot.
type ShardStats struct {
	ID            int           `json:"id"`
	Healthy       bool          `json:"healthy"`
	Dead          bool          `json:"dead"`
	DailyRequests int64         `json:"dailyRequests"`
	ErrorCount    int64         `json:"errorCount"`
	Latency       time.Duration `json:"latencyNs"`
	LastChecked   time.Time     `json:"lastChecked"`
}

// Stats reports every shard's health, latency, and daily request count.
func (p *Pool) Stats() []ShardStats {
	p.resetIfDayRolled()

	out := make([]ShardStats, 0, len(p.shards))
	for _, s := range p.shards {
		s.mu.Lock()
		out = append(out, ShardStats{
			ID:            s.id,
			Healthy:       s.healthy,
			Dead:          s.dead,
			DailyRequests: s.dailyRequests,
			ErrorCount:    s.errorCount,
			Latency:       s.latency,
			LastChecked:   s.lastChecked,
		})
		s.mu.Unlock()
	}
	return out
}
