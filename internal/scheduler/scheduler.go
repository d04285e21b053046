// Package scheduler walks the fixed section list round-robin, driving one
// fetch-and-enrich pass per tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/metrics"
	"github.com/jonesrussell/newsflow/internal/threshold"
)

// articlesPerTick keeps each tick cheap; the rotation, not the batch size,
// provides coverage.
const articlesPerTick = 1

// SectionFetcher is the fetch surface the rotation drives.
type SectionFetcher interface {
	FetchSection(ctx context.Context, section domain.Section, maxToProcess int) (int, error)
}

// Status is the rotation observability snapshot.
type Status struct {
	Running        bool           `json:"running"`
	CurrentSection domain.Section `json:"currentSection"`
	Index          int            `json:"index"`
	Total          int            `json:"total"`
	Rotations      int64          `json:"rotations"`
	LastTickAt     time.Time      `json:"lastTickAt,omitempty"`
}

// Scheduler is the single-worker rotation loop. Start and Stop are
// idempotent; ticks never overlap because one goroutine owns the loop.
type Scheduler struct {
	sections []domain.Section
	fetcher  SectionFetcher
	gate     *threshold.Gate
	period   time.Duration
	log      logger.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	index     int
	rotations int64
	lastTick  time.Time
}

// New creates the scheduler over the fixed section list.
func New(sections []domain.Section, f SectionFetcher, gate *threshold.Gate, period time.Duration, log logger.Logger) *Scheduler {
	if len(sections) == 0 {
		sections = domain.Sections
	}
	if period <= 0 {
		period = 180 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		sections: sections,
		fetcher:  f,
		gate:     gate,
		period:   period,
		log:      log,
	}
}

// Start launches the rotation loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info("scheduler: rotation started",
		logger.Int("sections", len(s.sections)),
		logger.Duration("period", s.period),
	)
}

// Stop halts the loop and waits for an in-flight tick to finish. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("scheduler: rotation stopped")
}

// Backfill rotates through every section once, synchronously. Run at boot so
// a cold store reaches the publication threshold without waiting a full
// rotation period per section.
func (s *Scheduler) Backfill(ctx context.Context) {
	s.log.Info("scheduler: boot backfill pass starting")
	for _, section := range s.sections {
		if ctx.Err() != nil {
			return
		}
		s.fetchOne(ctx, section)
	}
	s.log.Info("scheduler: boot backfill pass finished")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	// First tick runs immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick processes the current section and advances the index. On wrap it
// emits the rotation-complete event with per-section counts.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	section := s.sections[s.index]
	s.lastTick = time.Now().UTC()
	s.mu.Unlock()

	s.fetchOne(ctx, section)

	s.mu.Lock()
	s.index = (s.index + 1) % len(s.sections)
	wrapped := s.index == 0
	if wrapped {
		s.rotations++
	}
	s.mu.Unlock()

	if wrapped {
		s.rotationComplete(ctx)
	}
}

func (s *Scheduler) fetchOne(ctx context.Context, section domain.Section) {
	n, err := s.fetcher.FetchSection(ctx, section, articlesPerTick)
	if err != nil {
		s.log.Warn("scheduler: section fetch failed",
			logger.String("section", string(section)),
			logger.Error(err),
		)
		return
	}
	s.log.Debug("scheduler: section processed",
		logger.String("section", string(section)),
		logger.Int("enriched", n),
	)
}

// rotationComplete logs the per-section enriched counts after a full pass.
func (s *Scheduler) rotationComplete(ctx context.Context) {
	metrics.RotationsCompleted.Inc()

	status, err := s.gate.Check(ctx, false)
	if err != nil {
		s.log.Info("scheduler: rotation complete (counts unavailable)", logger.Error(err))
		return
	}

	fields := []logger.Field{logger.Bool("threshold_met", status.Met)}
	for _, sec := range status.Sections {
		fields = append(fields, logger.Int64(string(sec.Section), sec.Count))
	}
	s.log.Info("scheduler: rotation complete", fields...)
}

// Status reports the rotation position.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Running:        s.running,
		CurrentSection: s.sections[s.index],
		Index:          s.index,
		Total:          len(s.sections),
		Rotations:      s.rotations,
		LastTickAt:     s.lastTick,
	}
}
