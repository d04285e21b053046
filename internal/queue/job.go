// Package queue is the durable, idempotent, priority-ordered queue of
// per-article enrichment jobs, with rate-limited dispatch and state persisted
// through the cache shard pool so restarts keep the backlog.
package queue

import (
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// JobIDPrefix keys every enrichment job to its article.
const JobIDPrefix = "commentary-"

// JobID derives the idempotency key for an article.
func JobID(articleID string) string {
	return JobIDPrefix + articleID
}

// Job is one enrichment task. The article snapshot travels with the job so a
// worker needs no extra reads to run it.
type Job struct {
	ID       string         `json:"id"`
	Article  domain.Article `json:"article"`
	Priority int            `json:"priority"`

	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	NextRunAt   time.Time `json:"nextRunAt"`
	State       State     `json:"state"`

	EnqueuedAt    time.Time `json:"enqueuedAt"`
	LockExpiresAt time.Time `json:"lockExpiresAt,omitempty"`
	FinishedAt    time.Time `json:"finishedAt,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	Source        string    `json:"source,omitempty"` // commentary source on completion
}

// due reports whether the job is runnable at t.
func (j *Job) due(t time.Time) bool {
	return (j.State == StateWaiting || j.State == StateDelayed) && !j.NextRunAt.After(t)
}

// Priority bounds: 1 is highest, 10 lowest, 5 the default.
const (
	priorityHighest = 1
	priorityLowest  = 10
	priorityDefault = 5
)

// computePriority ranks fresh articles and hot sections ahead of the backlog.
func computePriority(a *domain.Article, now time.Time) int {
	p := priorityDefault
	if !a.PublishedDate.IsZero() {
		switch age := now.Sub(a.PublishedDate); {
		case age < 6*time.Hour:
			p = 1
		case age < 24*time.Hour:
			p = 2
		case age < 48*time.Hour:
			p = 3
		}
	}
	if a.Section.Hot() {
		p--
	}
	if p < priorityHighest {
		p = priorityHighest
	}
	if p > priorityLowest {
		p = priorityLowest
	}
	return p
}
