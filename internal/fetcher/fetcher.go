package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/newsflow/internal/cache"
	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/metrics"
	"github.com/jonesrussell/newsflow/internal/store"
	"github.com/jonesrussell/newsflow/internal/threshold"
)

// itemPacing spaces enrichment calls inside one batch; upstream courtesy,
// not a hard limit.
const itemPacing = 2 * time.Second

// Enricher is the inline enrichment surface the fetcher drives per item.
type Enricher interface {
	EnrichWithFallback(ctx context.Context, a *domain.Article) domain.CommentarySource
}

// Fetcher pulls, normalizes, dedupes, enriches, and persists one section at
// a time.
type Fetcher struct {
	sources  map[domain.Section]Source
	store    store.Store
	cache    *cache.Cache
	enricher Enricher
	gate     *threshold.Gate
	log      logger.Logger
	pacing   time.Duration
}

// New wires the fetcher with the static section-to-source map.
func New(
	sources map[domain.Section]Source,
	st store.Store,
	c *cache.Cache,
	e Enricher,
	gate *threshold.Gate,
	log logger.Logger,
) *Fetcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Fetcher{
		sources:  sources,
		store:    st,
		cache:    c,
		enricher: e,
		gate:     gate,
		log:      log,
		pacing:   itemPacing,
	}
}

// BuildSourceMap assembles the static section routing: publisher A covers
// the core report, publisher B the API-only categories, and feeds the rest.
func BuildSourceMap(topStories, headlines, rss Source) map[domain.Section]Source {
	m := make(map[domain.Section]Source, len(domain.Sections))
	for _, s := range domain.Sections {
		m[s] = topStories
	}
	if headlines != nil {
		m[domain.SectionFinance] = headlines
		m[domain.SectionScience] = headlines
	}
	if rss != nil {
		m[domain.SectionFood] = rss
		m[domain.SectionTravel] = rss
	}
	return m
}

// FetchSection pulls one batch for the section and processes up to
// maxToProcess new items serially: dedupe by URL against the store, enrich
// inline, upsert, and publish to the cache when the threshold gate is open.
// Returns the number of articles enriched and persisted.
func (f *Fetcher) FetchSection(ctx context.Context, section domain.Section, maxToProcess int) (int, error) {
	source, ok := f.sources[section]
	if !ok {
		return 0, fmt.Errorf("fetcher: no source mapped for section %q", section)
	}
	if maxToProcess <= 0 {
		maxToProcess = 1
	}

	batch, err := source.Fetch(ctx, section)
	if err != nil {
		return 0, fmt.Errorf("fetch %s from %s: %w", section, source.Name(), err)
	}
	metrics.ArticlesFetched.WithLabelValues(string(section)).Add(float64(len(batch)))

	var processed int
	var publishedIDs []string

	for i := range batch {
		if processed >= maxToProcess {
			break
		}
		if ctx.Err() != nil {
			break
		}
		article := &batch[i]

		existing, err := f.store.FindByURL(ctx, article.URL)
		if err == nil && existing.Complete() {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			f.log.Warn("fetcher: dedupe lookup failed, skipping item",
				logger.String("url", article.URL),
				logger.Error(err),
			)
			continue
		}
		if existing != nil {
			// Keep the id stable across refreshes of the same URL.
			article.ID = existing.ID
		}

		if processed > 0 {
			select {
			case <-ctx.Done():
				return processed, ctx.Err()
			case <-time.After(f.pacing):
			}
		}

		src := f.enricher.EnrichWithFallback(ctx, article)

		if err := f.store.UpsertByURL(ctx, article); err != nil {
			f.log.Error("fetcher: failed to persist enriched article",
				logger.String("url", article.URL),
				logger.Error(err),
			)
			continue
		}
		processed++

		f.log.Info("fetcher: article enriched and persisted",
			logger.String("article_id", article.ID),
			logger.String("section", string(section)),
			logger.String("commentary_source", string(src)),
		)

		if !article.Ephemeral() {
			publishedIDs = append(publishedIDs, article.ID)
		}
	}

	f.publish(ctx, section, publishedIDs)
	return processed, nil
}

// publish refreshes the section's public cache surface: derived list
// snapshots are invalidated, and — only while the gate is open — new ids
// join the bounded section FIFO.
func (f *Fetcher) publish(ctx context.Context, section domain.Section, ids []string) {
	if len(ids) == 0 {
		return
	}

	if _, err := f.cache.Invalidate(ctx, fmt.Sprintf("section:%s:list:*", section)); err != nil {
		f.log.Warn("fetcher: section cache invalidation failed",
			logger.String("section", string(section)),
			logger.Error(err),
		)
	}

	// Counts just changed, so bypass the gate's cached answer.
	status, err := f.gate.Check(ctx, true)
	if err != nil {
		f.log.Warn("fetcher: threshold check failed, section list not published",
			logger.String("section", string(section)),
			logger.Error(err),
		)
		return
	}
	if !status.Met {
		f.log.Debug("fetcher: gate closed, section list not published",
			logger.String("section", string(section)),
		)
		return
	}

	res, err := f.cache.SectionFIFO(ctx, string(section), ids)
	if err != nil {
		f.log.Warn("fetcher: section FIFO push failed",
			logger.String("section", string(section)),
			logger.Error(err),
		)
		return
	}
	f.log.Info("fetcher: section list published",
		logger.String("section", string(section)),
		logger.Int("added", res.Added),
		logger.Int("removed", res.Removed),
	)
}
