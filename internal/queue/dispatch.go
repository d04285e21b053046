package queue

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/metrics"
)

// Dispatch tuning. The cache tier bills every poll, so an empty queue backs
// off to the drain delay instead of spinning.
const (
	concurrency        = 2
	maxStartsPerWindow = 10
	startWindow        = time.Minute

	pollInterval         = time.Second
	drainDelay           = 30 * time.Second
	stalledSweepInterval = time.Minute
	lockDuration         = 2 * time.Minute
)

// Run consumes the queue until ctx is cancelled: one dispatch loop ordered
// by (priority, enqueue time), a bounded worker pool, and a stalled-job
// monitor that requeues work whose lock expired.
func (q *Queue) Run(ctx context.Context, w Worker) error {
	workCh := make(chan *Job)

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			return q.workerLoop(ctx, workerID, workCh, w)
		})
	}

	g.Go(func() error {
		return q.dispatchLoop(ctx, workCh)
	})

	g.Go(func() error {
		return q.stalledLoop(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops accepting submissions. Active workers finish through the
// Run context.
func (q *Queue) Shutdown() {
	q.stoppedMu.Lock()
	q.stopped = true
	q.stoppedMu.Unlock()
	q.log.Info("queue: submissions closed")
}

func (q *Queue) draining() bool {
	q.stoppedMu.Lock()
	defer q.stoppedMu.Unlock()
	return q.stopped
}

func (q *Queue) dispatchLoop(ctx context.Context, workCh chan<- *Job) error {
	for {
		job, idle := q.claimNext()

		if job == nil {
			delay := pollInterval
			if idle {
				delay = drainDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			q.requeue(job)
			return ctx.Err()
		case workCh <- job:
		}
	}
}

// claimNext picks and locks the best runnable job. The second return is true
// when the queue had nothing runnable at all (drain), false when only the
// rate limiter held a job back (short poll).
func (q *Queue) claimNext() (*Job, bool) {
	now := q.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.nextDue(now)
	if job == nil {
		q.updateGauges()
		return nil, true
	}
	if !q.allowStart(now) {
		return nil, false
	}

	job.State = StateActive
	job.Attempts++
	job.LockExpiresAt = now.Add(lockDuration)
	q.persist(context.Background(), job)
	q.updateGauges()
	return job, false
}

// allowStart admits at most maxStartsPerWindow job starts per sliding
// window. Caller holds q.mu.
func (q *Queue) allowStart(now time.Time) bool {
	cutoff := now.Add(-startWindow)
	kept := q.starts[:0]
	for _, t := range q.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.starts = kept

	if len(q.starts) >= maxStartsPerWindow {
		return false
	}
	q.starts = append(q.starts, now)
	return true
}

func (q *Queue) requeue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.State = StateWaiting
	job.Attempts--
	q.persist(context.Background(), job)
}

func (q *Queue) workerLoop(ctx context.Context, id int, workCh <-chan *Job, w Worker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-workCh:
			q.log.Info("queue: worker starting job",
				logger.Int("worker", id),
				logger.String("job_id", job.ID),
				logger.Int("attempt", job.Attempts),
			)
			err := w.Enrich(ctx, &job.Article)
			q.finish(ctx, job, err, w)
		}
	}
}

// finish applies the attempt's outcome: success completes, recoverable
// failure backs off exponentially, and exhausted attempts take the fallback
// path so the article still ends up complete.
func (q *Queue) finish(ctx context.Context, job *Job, err error, w Worker) {
	now := q.now().UTC()

	if err == nil {
		q.complete(ctx, job, string(job.Article.CommentarySrc), "")
		return
	}

	if errors.Is(err, ErrInvalidJob) || job.Article.ID == "" {
		q.fail(ctx, job, err)
		return
	}

	if job.Attempts < job.MaxAttempts && recoverableJobError(err) {
		backoff := backoffBase * time.Duration(1<<(job.Attempts-1))
		q.mu.Lock()
		job.State = StateWaiting
		job.NextRunAt = now.Add(backoff)
		job.LastError = err.Error()
		q.persist(ctx, job)
		q.updateGauges()
		q.mu.Unlock()

		q.log.Warn("queue: job attempt failed, backing off",
			logger.String("job_id", job.ID),
			logger.Int("attempt", job.Attempts),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)
		return
	}

	// Terminal: deterministic fallback keeps the article complete.
	q.log.Warn("queue: job attempts exhausted, taking fallback path",
		logger.String("job_id", job.ID),
		logger.Error(err),
	)
	w.Fallback(ctx, &job.Article)
	q.complete(ctx, job, string(job.Article.CommentarySrc), err.Error())
}

func (q *Queue) complete(ctx context.Context, job *Job, source, lastErr string) {
	now := q.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	job.State = StateCompleted
	job.FinishedAt = now
	job.Source = source
	job.LastError = lastErr
	q.persist(ctx, job)
	q.prune(ctx, now)
	q.updateGauges()
}

func (q *Queue) fail(ctx context.Context, job *Job, err error) {
	now := q.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	job.State = StateFailed
	job.FinishedAt = now
	job.LastError = err.Error()
	q.persist(ctx, job)
	q.prune(ctx, now)
	q.updateGauges()

	q.log.Error("queue: job failed terminally",
		logger.String("job_id", job.ID),
		logger.Error(err),
	)
}

// stalledLoop requeues active jobs whose lock expired without completion.
func (q *Queue) stalledLoop(ctx context.Context) error {
	ticker := time.NewTicker(stalledSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.sweepStalled(ctx)
		}
	}
}

func (q *Queue) sweepStalled(ctx context.Context) {
	now := q.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if j.State == StateActive && !j.LockExpiresAt.IsZero() && j.LockExpiresAt.Before(now) {
			j.State = StateWaiting
			j.NextRunAt = now
			q.persist(ctx, j)
			q.log.Warn("queue: requeued stalled job", logger.String("job_id", j.ID))
		}
	}
	q.updateGauges()
}

// updateGauges refreshes the queue depth metrics. Caller holds q.mu.
func (q *Queue) updateGauges() {
	counts := map[State]int{}
	for _, j := range q.jobs {
		counts[j.State]++
	}
	for _, s := range []State{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed} {
		metrics.QueueDepth.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// recoverableJobError mirrors the worker's view of what another attempt
// could fix.
func recoverableJobError(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidJob)
}
