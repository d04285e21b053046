package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/newsflow/internal/cache"
	"github.com/jonesrussell/newsflow/internal/cachepool"
	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/store"
)

// Worker executes jobs. The enricher satisfies this.
type Worker interface {
	Enrich(ctx context.Context, a *domain.Article) error
	Fallback(ctx context.Context, a *domain.Article)
}

// SubmitStatus reports what admission did with a submission.
type SubmitStatus string

const (
	// StatusQueued means a new job was admitted.
	StatusQueued SubmitStatus = "queued"
	// StatusAlreadyDone means commentary already exists; nothing to do.
	StatusAlreadyDone SubmitStatus = "already_done"
	// StatusDuplicate means a live job with the same id exists; no-op.
	StatusDuplicate SubmitStatus = "duplicate"
)

// ErrInvalidJob rejects submissions without an article id.
var ErrInvalidJob = errors.New("queue: article id is required")

// SubmitOptions tune one submission.
type SubmitOptions struct {
	// Priority overrides the computed priority when between 1 and 10.
	Priority int
	// Delay postpones the first run.
	Delay time.Duration
}

// Job option defaults and retention policy.
const (
	defaultMaxAttempts = 3
	backoffBase        = 5 * time.Second

	keepCompleted    = 100
	keepCompletedAge = 24 * time.Hour
	keepFailed       = 500
	keepFailedAge    = 7 * 24 * time.Hour
)

// Queue owns every job until it reaches a terminal state.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*Job

	cache *cache.Cache
	store store.Store
	log   logger.Logger
	now   func() time.Time

	// dispatch bookkeeping (see dispatch.go)
	starts    []time.Time
	stopped   bool
	stoppedMu sync.Mutex
}

// New creates the queue. Call Restore before Run to pick up persisted state.
func New(c *cache.Cache, st store.Store, log logger.Logger) *Queue {
	if log == nil {
		log = logger.NewNop()
	}
	return &Queue{
		jobs:  make(map[string]*Job),
		cache: c,
		store: st,
		log:   log,
		now:   time.Now,
	}
}

// Submit admits an enrichment job for the article. Admission short-circuits
// when commentary already exists in the store or the cache, and is a no-op
// for an id already waiting, delayed, or active.
func (q *Queue) Submit(ctx context.Context, a *domain.Article, opts SubmitOptions) (SubmitStatus, error) {
	if a == nil || a.ID == "" {
		return "", ErrInvalidJob
	}
	if q.draining() {
		return "", errors.New("queue: shutting down, not accepting submissions")
	}

	// Store already has commentary: done.
	if existing, err := q.store.FindByID(ctx, a.ID); err == nil && existing.Complete() {
		return StatusAlreadyDone, nil
	}

	// Cache has commentary: back-fill the store and report done.
	if commentary, err := q.cache.Get(ctx, cache.CommentaryKey(a.ID)); err == nil && commentary != "" {
		if err := q.store.UpdateCommentary(ctx, a.ID, commentary, domain.CommentaryAI, q.now().UTC()); err != nil && !errors.Is(err, store.ErrNotFound) {
			q.log.Warn("queue: commentary back-fill failed",
				logger.String("article_id", a.ID),
				logger.Error(err),
			)
		}
		return StatusAlreadyDone, nil
	} else if err != nil && !errors.Is(err, cachepool.ErrNotFound) {
		q.log.Warn("queue: cache check failed during admission",
			logger.String("article_id", a.ID),
			logger.Error(err),
		)
	}

	id := JobID(a.ID)
	now := q.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	if j, ok := q.jobs[id]; ok {
		switch j.State {
		case StateWaiting, StateActive, StateDelayed:
			return StatusDuplicate, nil
		}
		// Terminal jobs may be resubmitted.
	}

	priority := opts.Priority
	if priority < priorityHighest || priority > priorityLowest {
		priority = computePriority(a, now)
	}

	j := &Job{
		ID:          id,
		Article:     *a,
		Priority:    priority,
		MaxAttempts: defaultMaxAttempts,
		State:       StateWaiting,
		EnqueuedAt:  now,
		NextRunAt:   now,
	}
	if opts.Delay > 0 {
		j.State = StateDelayed
		j.NextRunAt = now.Add(opts.Delay)
	}

	q.jobs[id] = j
	q.persist(ctx, j)

	q.log.Info("queue: job admitted",
		logger.String("job_id", id),
		logger.Int("priority", priority),
		logger.String("state", string(j.State)),
	)
	return StatusQueued, nil
}

// nextDue picks the runnable job with the best (priority, enqueuedAt) order.
// Caller must hold q.mu.
func (q *Queue) nextDue(now time.Time) *Job {
	var best *Job
	for _, j := range q.jobs {
		if !j.due(now) {
			continue
		}
		if best == nil ||
			j.Priority < best.Priority ||
			(j.Priority == best.Priority && j.EnqueuedAt.Before(best.EnqueuedAt)) {
			best = j
		}
	}
	return best
}

// prune enforces the retention policy over terminal jobs. Caller holds q.mu.
func (q *Queue) prune(ctx context.Context, now time.Time) {
	var completed, failed []*Job
	for _, j := range q.jobs {
		switch j.State {
		case StateCompleted:
			completed = append(completed, j)
		case StateFailed:
			failed = append(failed, j)
		}
	}
	q.pruneSet(ctx, completed, keepCompleted, keepCompletedAge, now)
	q.pruneSet(ctx, failed, keepFailed, keepFailedAge, now)
}

func (q *Queue) pruneSet(ctx context.Context, set []*Job, keep int, maxAge time.Duration, now time.Time) {
	// Oldest first.
	for i := 0; i < len(set); i++ {
		for k := i + 1; k < len(set); k++ {
			if set[k].FinishedAt.Before(set[i].FinishedAt) {
				set[i], set[k] = set[k], set[i]
			}
		}
	}
	excess := len(set) - keep
	for i, j := range set {
		if i < excess || now.Sub(j.FinishedAt) > maxAge {
			delete(q.jobs, j.ID)
			q.unpersist(ctx, j.ID)
		}
	}
}
