// Package enricher attaches AI commentary to articles: cache-first lookup,
// generation through the credential pool, snapshot and store persistence,
// and a deterministic fallback when generation permanently fails.
package enricher

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/newsflow/internal/ai"
	"github.com/jonesrussell/newsflow/internal/cache"
	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/errkind"
	"github.com/jonesrussell/newsflow/internal/keypool"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/metrics"
	"github.com/jonesrussell/newsflow/internal/store"
)

// Model parameters for commentary generation.
const (
	aiCallTimeout   = 30 * time.Second
	maxOutputTokens = 600
	temperature     = 0.5

	// inlineAttempts bounds the synchronous (fetcher) path before falling
	// back; the queue path gets the same count via job maxAttempts.
	inlineAttempts = 3
	inlineBackoff  = 5 * time.Second
)

// ErrEmptyArticleID rejects enrichment of an article without an id.
var ErrEmptyArticleID = errors.New("enricher: article id is required")

// Enricher generates and persists commentary.
type Enricher struct {
	cache    *cache.Cache
	store    store.Store
	pool     *keypool.Pool
	provider ai.Provider
	log      logger.Logger
	now      func() time.Time
	backoff  time.Duration
}

// New wires the enricher.
func New(c *cache.Cache, st store.Store, pool *keypool.Pool, provider ai.Provider, log logger.Logger) *Enricher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Enricher{
		cache:    c,
		store:    st,
		pool:     pool,
		provider: provider,
		log:      log,
		now:      time.Now,
		backoff:  inlineBackoff,
	}
}

// Enrich performs one enrichment attempt for the article: cache-first
// commentary lookup with generation on miss, then snapshot and store
// persistence. Rate-limit and exhaustion errors propagate so the caller's
// retry policy decides what happens next.
func (e *Enricher) Enrich(ctx context.Context, a *domain.Article) error {
	if a.ID == "" {
		return ErrEmptyArticleID
	}

	commentary, err := e.cache.GetOrSet(ctx, cache.CommentaryKey(a.ID), cache.ClassCommentary,
		func(ctx context.Context) (string, error) {
			return e.generate(ctx, a)
		})
	if err != nil {
		return err
	}

	e.attach(a, commentary, domain.CommentaryAI)
	e.persist(ctx, a)
	metrics.ArticlesEnriched.WithLabelValues(string(domain.CommentaryAI)).Inc()
	return nil
}

// EnrichWithFallback is the synchronous path the fetcher drives: bounded
// retries on recoverable errors, then the deterministic fallback. The
// article always comes back complete.
func (e *Enricher) EnrichWithFallback(ctx context.Context, a *domain.Article) domain.CommentarySource {
	var lastErr error
	for attempt := 1; attempt <= inlineAttempts; attempt++ {
		err := e.Enrich(ctx, a)
		if err == nil {
			return domain.CommentaryAI
		}
		lastErr = err

		if !recoverable(err) {
			break
		}
		if attempt < inlineAttempts {
			delay := e.backoff * time.Duration(1<<(attempt-1))
			e.log.Warn("enrichment attempt failed, backing off",
				logger.String("article_id", a.ID),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err),
			)
			select {
			case <-ctx.Done():
				attempt = inlineAttempts
			case <-time.After(delay):
			}
		}
	}

	e.log.Warn("enrichment permanently failed, writing fallback commentary",
		logger.String("article_id", a.ID),
		logger.Error(lastErr),
	)
	e.Fallback(ctx, a)
	return domain.CommentaryFallback
}

// Fallback writes the deterministic template commentary to the article, the
// cache, and the store. The article is complete afterwards.
func (e *Enricher) Fallback(ctx context.Context, a *domain.Article) {
	commentary := fallbackCommentary(a.Title, string(a.Section))
	e.attach(a, commentary, domain.CommentaryFallback)

	if err := e.cache.Set(ctx, cache.CommentaryKey(a.ID), commentary, cache.ClassCommentary); err != nil {
		e.log.Warn("failed to cache fallback commentary",
			logger.String("article_id", a.ID),
			logger.Error(err),
		)
	}
	e.persist(ctx, a)
	metrics.ArticlesEnriched.WithLabelValues(string(domain.CommentaryFallback)).Inc()
}

// generate runs one AI call through the credential pool and returns the
// trimmed completion.
func (e *Enricher) generate(ctx context.Context, a *domain.Article) (string, error) {
	var text string
	err := e.pool.Dispatch(ctx, func(ctx context.Context, secret string) (int64, error) {
		callCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
		defer cancel()

		res, err := e.provider.Generate(callCtx, secret, ai.Request{
			System:      systemPrompt,
			Prompt:      buildPrompt(a.Title, a.Abstract, string(a.Section)),
			MaxTokens:   maxOutputTokens,
			Temperature: temperature,
		})
		if err != nil {
			return 0, err
		}
		text = res.Text
		return res.TokensUsed, nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (e *Enricher) attach(a *domain.Article, commentary string, src domain.CommentarySource) {
	a.AICommentary = commentary
	a.CommentaryGeneratedAt = e.now().UTC()
	a.CommentarySrc = src
}

// persist writes the article snapshot to the cache and the commentary to the
// store. Ephemeral articles skip the store; a store failure is logged, not
// raised, because the commentary already lives in the cache.
func (e *Enricher) persist(ctx context.Context, a *domain.Article) {
	if err := e.cache.SetJSON(ctx, cache.ArticleKey(a.ID), snapshot(a, e.now().UTC()), cache.ArticleSnapshotTTL); err != nil {
		e.log.Warn("failed to cache article snapshot",
			logger.String("article_id", a.ID),
			logger.Error(err),
		)
	}

	if a.Ephemeral() {
		return
	}
	if err := e.store.UpdateCommentary(ctx, a.ID, a.AICommentary, a.CommentarySrc, a.CommentaryGeneratedAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Fetcher upserts the full article right after; nothing to merge yet.
			return
		}
		e.log.Warn("failed to persist commentary to store",
			logger.String("article_id", a.ID),
			logger.Error(err),
		)
	}
}

// recoverable reports whether another attempt could still succeed today.
func recoverable(err error) bool {
	switch errkind.Of(err) {
	case errkind.RateLimit, errkind.Exhausted, errkind.UpstreamTransient, errkind.Unknown:
		return true
	default:
		return false
	}
}

// snapshot is the cached full-article shape read clients receive.
type snapshotDoc struct {
	domain.Article
	CachedAt time.Time `json:"_cachedAt"`
}

func snapshot(a *domain.Article, at time.Time) snapshotDoc {
	return snapshotDoc{Article: *a, CachedAt: at}
}
