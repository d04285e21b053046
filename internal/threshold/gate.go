// Package threshold gates cache publication until every section holds a
// minimum number of enriched articles.
package threshold

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/metrics"
	"github.com/jonesrussell/newsflow/internal/store"
)

// checkInterval bounds how often the gate hits the store; callers in the hot
// path read the cached answer.
const checkInterval = time.Minute

// SectionStatus is one section's progress toward the threshold.
type SectionStatus struct {
	Section domain.Section `json:"section"`
	Count   int64          `json:"count"`
	Met     bool           `json:"met"`
}

// Status is the full gate snapshot.
type Status struct {
	Sections  []SectionStatus `json:"sections"`
	Threshold int64           `json:"threshold"`
	Met       bool            `json:"met"`
	CheckedAt time.Time       `json:"checkedAt"`
}

// Gate counts enriched articles per section. It only ever gates cache
// admission; store writes and direct store reads are never blocked.
type Gate struct {
	store     store.Store
	threshold int64
	log       logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	last    Status
	checked bool
}

// New creates the gate.
func New(st store.Store, threshold int, log logger.Logger) *Gate {
	if threshold <= 0 {
		threshold = 8
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Gate{
		store:     st,
		threshold: int64(threshold),
		log:       log,
		now:       time.Now,
	}
}

// Check aggregates enriched counts per known section. Results are held for
// checkInterval; pass force to bypass the hold.
func (g *Gate) Check(ctx context.Context, force bool) (Status, error) {
	g.mu.Lock()
	if g.checked && !force && g.now().Sub(g.last.CheckedAt) < checkInterval {
		cached := g.last
		g.mu.Unlock()
		return cached, nil
	}
	g.mu.Unlock()

	counts, err := g.store.AggregateCountsBySection(ctx)
	if err != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.checked {
			// Stale answer beats a closed pipeline.
			return g.last, nil
		}
		return Status{Threshold: g.threshold}, err
	}

	status := Status{
		Threshold: g.threshold,
		Met:       true,
		CheckedAt: g.now().UTC(),
	}
	for _, section := range domain.Sections {
		count := counts[section]
		met := count >= g.threshold
		if !met {
			status.Met = false
		}
		status.Sections = append(status.Sections, SectionStatus{
			Section: section,
			Count:   count,
			Met:     met,
		})
	}

	g.mu.Lock()
	wasMet := g.checked && g.last.Met
	g.last = status
	g.checked = true
	g.mu.Unlock()

	if status.Met {
		metrics.ThresholdMet.Set(1)
	} else {
		metrics.ThresholdMet.Set(0)
	}
	if status.Met && !wasMet {
		g.log.Info("threshold gate opened: all sections meet the minimum",
			logger.Int64("threshold", g.threshold),
		)
	}
	return status, nil
}

// Open reports whether cache publication is currently allowed.
func (g *Gate) Open(ctx context.Context) bool {
	status, err := g.Check(ctx, false)
	if err != nil {
		g.log.Warn("threshold check failed, keeping gate closed", logger.Error(err))
		return false
	}
	return status.Met
}
