package queue

import (
	"context"
	"encoding/json"

	"github.com/jonesrussell/newsflow/internal/logger"
)

// Queue state lives in the cache shard pool under one hash so a restart
// recovers the backlog.
const jobsHashKey = "queue:jobs"

// persist writes one job's state. Failures degrade durability, not
// correctness, so they are logged and swallowed.
func (q *Queue) persist(ctx context.Context, j *Job) {
	data, err := json.Marshal(j)
	if err != nil {
		q.log.Error("queue: failed to marshal job", logger.String("job_id", j.ID), logger.Error(err))
		return
	}
	if err := q.cache.Pool().HSet(ctx, jobsHashKey, j.ID, string(data)); err != nil {
		q.log.Warn("queue: failed to persist job state",
			logger.String("job_id", j.ID),
			logger.Error(err),
		)
	}
}

func (q *Queue) unpersist(ctx context.Context, jobID string) {
	if _, err := q.cache.Pool().HDel(ctx, jobsHashKey, jobID); err != nil {
		q.log.Warn("queue: failed to remove persisted job",
			logger.String("job_id", jobID),
			logger.Error(err),
		)
	}
}

// Restore loads persisted jobs. Jobs caught mid-flight by the previous
// shutdown return to waiting.
func (q *Queue) Restore(ctx context.Context) error {
	fields, err := q.cache.Pool().HGetAll(ctx, jobsHashKey)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	restored := 0
	for id, raw := range fields {
		var j Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			q.log.Warn("queue: dropping unreadable persisted job",
				logger.String("job_id", id),
				logger.Error(err),
			)
			continue
		}
		if j.State == StateActive {
			j.State = StateWaiting
			j.LockExpiresAt = q.now().UTC()
		}
		q.jobs[j.ID] = &j
		restored++
	}

	if restored > 0 {
		q.log.Info("queue: restored persisted jobs", logger.Int("count", restored))
	}
	return nil
}
