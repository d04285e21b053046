package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/logger"
)

// Resilient wraps a primary Store with an in-memory mirror so reads can
// degrade instead of failing when the primary is down. Writes go to the
// primary and still raise on failure; the mirror is best-effort.
type Resilient struct {
	primary Store
	mirror  *MemStore
	log     logger.Logger
}

var _ Store = (*Resilient)(nil)

// NewResilient wraps primary with a degraded-read mirror.
func NewResilient(primary Store, log logger.Logger) *Resilient {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resilient{primary: primary, mirror: NewMem(), log: log}
}

func (r *Resilient) UpsertByURL(ctx context.Context, a *domain.Article) error {
	if err := r.primary.UpsertByURL(ctx, a); err != nil {
		return err
	}
	_ = r.mirror.UpsertByURL(ctx, a)
	return nil
}

func (r *Resilient) UpdateCommentary(ctx context.Context, articleID, commentary string, src domain.CommentarySource, at time.Time) error {
	if err := r.primary.UpdateCommentary(ctx, articleID, commentary, src, at); err != nil {
		return err
	}
	_ = r.mirror.UpdateCommentary(ctx, articleID, commentary, src, at)
	return nil
}

func (r *Resilient) FindByURL(ctx context.Context, url string) (*domain.Article, error) {
	a, err := r.primary.FindByURL(ctx, url)
	if err == nil || errors.Is(err, ErrNotFound) {
		return a, err
	}
	r.log.Warn("store read degraded to in-memory mirror", logger.Error(err))
	return r.mirror.FindByURL(ctx, url)
}

func (r *Resilient) FindByID(ctx context.Context, id string) (*domain.Article, error) {
	a, err := r.primary.FindByID(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		return a, err
	}
	r.log.Warn("store read degraded to in-memory mirror", logger.Error(err))
	return r.mirror.FindByID(ctx, id)
}

func (r *Resilient) CountBy(ctx context.Context, f Filter) (int64, error) {
	n, err := r.primary.CountBy(ctx, f)
	if err == nil {
		return n, nil
	}
	r.log.Warn("store count degraded to in-memory mirror", logger.Error(err))
	return r.mirror.CountBy(ctx, f)
}

func (r *Resilient) AggregateCountsBySection(ctx context.Context) (map[domain.Section]int64, error) {
	counts, err := r.primary.AggregateCountsBySection(ctx)
	if err == nil {
		return counts, nil
	}
	r.log.Warn("store aggregate degraded to in-memory mirror", logger.Error(err))
	return r.mirror.AggregateCountsBySection(ctx)
}

func (r *Resilient) Ping(ctx context.Context) error {
	return r.primary.Ping(ctx)
}

func (r *Resilient) Close(ctx context.Context) error {
	return r.primary.Close(ctx)
}
