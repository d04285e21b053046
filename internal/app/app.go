// Package app composes every newsflow service and owns the startup and
// shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/newsflow/internal/ai"
	"github.com/jonesrussell/newsflow/internal/api"
	"github.com/jonesrussell/newsflow/internal/cache"
	"github.com/jonesrussell/newsflow/internal/cachepool"
	"github.com/jonesrussell/newsflow/internal/config"
	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/enricher"
	"github.com/jonesrussell/newsflow/internal/fetcher"
	"github.com/jonesrussell/newsflow/internal/health"
	"github.com/jonesrussell/newsflow/internal/keypool"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/queue"
	"github.com/jonesrussell/newsflow/internal/scheduler"
	"github.com/jonesrussell/newsflow/internal/store"
	"github.com/jonesrussell/newsflow/internal/threshold"
)

// App is the assembled pipeline.
type App struct {
	cfg *config.Config
	log logger.Logger

	cachePool  *cachepool.Pool
	cacheTier  *cache.Cache
	storeMongo *store.MongoStore
	storeRes   store.Store
	aiPool     *keypool.Pool
	publishers map[string]*keypool.Pool
	enrich     *enricher.Enricher
	jobQueue   *queue.Queue
	fetch      *fetcher.Fetcher
	rotation   *scheduler.Scheduler
	gate       *threshold.Gate
	server     *api.Server

	stopHealth func()
}

// New wires every service from configuration. No background work starts
// until Run.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, publishers: make(map[string]*keypool.Pool)}

	// Cache shard pool.
	if cfg.CacheDisabled {
		a.cachePool = cachepool.NewDisabled(log)
		log.Info("cache shards disabled, running on in-process map")
	} else {
		clients := make([]cachepool.Client, 0, len(cfg.CacheShards))
		for _, shard := range cfg.CacheShards {
			client, err := cachepool.NewRedisClient(shard.URL, shard.Token)
			if err != nil {
				return nil, fmt.Errorf("cache shard %s: %w", shard.URL, err)
			}
			clients = append(clients, client)
		}
		a.cachePool = cachepool.New(cachepool.Config{}, clients, log)
		a.cachePool.Connect(ctx)
	}
	a.cacheTier = cache.New(a.cachePool, cfg.MaxSectionCache, log)

	// Document store with degraded-read mirror.
	mongoStore, err := store.NewMongo(ctx, cfg.StoreURI, cfg.StoreDatabase, log)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	a.storeMongo = mongoStore
	a.storeRes = store.NewResilient(mongoStore, log)

	// Credential pools.
	a.aiPool, err = keypool.NewAIPool(cfg.AIKeys, log)
	if err != nil {
		return nil, fmt.Errorf("ai credentials: %w", err)
	}

	var topStories, headlines fetcher.Source
	if cfg.PublisherAKey != "" {
		pool, err := keypool.NewPublisherPool("publisher-a", []string{cfg.PublisherAKey}, log)
		if err != nil {
			return nil, err
		}
		a.publishers["publisher-a"] = pool
		topStories = fetcher.NewTopStories(pool)
	}
	if len(cfg.PublisherBKeys) > 0 {
		pool, err := keypool.NewPublisherPool("publisher-b", cfg.PublisherBKeys, log)
		if err != nil {
			return nil, err
		}
		a.publishers["publisher-b"] = pool
		headlines = fetcher.NewHeadlines(pool)
	}
	if topStories == nil {
		return nil, fmt.Errorf("PUBLISHER_A_KEY is required for section ingestion")
	}

	// Pipeline services.
	a.gate = threshold.New(a.storeRes, cfg.SectionThreshold, log)
	a.enrich = enricher.New(a.cacheTier, a.storeRes, a.aiPool, ai.NewAnthropic(cfg.AIModel), log)
	a.jobQueue = queue.New(a.cacheTier, a.storeRes, log)
	a.fetch = fetcher.New(
		fetcher.BuildSourceMap(topStories, headlines, fetcher.NewRSS()),
		a.storeRes, a.cacheTier, a.enrich, a.gate, log,
	)
	a.rotation = scheduler.New(domain.Sections, a.fetch, a.gate, cfg.RotationPeriod, log)

	// Health and observability surface.
	checker := health.NewChecker()
	checker.Register("store", a.storeRes.Ping)
	checker.Register("cache", a.cachePool.Ping)
	a.server = api.New(cfg.HTTPAddr, api.Deps{
		Cache:      a.cacheTier,
		Store:      a.storeRes,
		Queue:      a.jobQueue,
		Scheduler:  a.rotation,
		Gate:       a.gate,
		AIPool:     a.aiPool,
		Publishers: a.publishers,
		ShardStats: a.cachePool.Stats,
		Health:     checker,
		Log:        log,
	})

	return a, nil
}

// Run starts every loop and blocks until ctx is cancelled, then shuts down
// in order: workers, queue, scheduler, adapters.
func (a *App) Run(ctx context.Context) error {
	if err := a.jobQueue.Restore(ctx); err != nil {
		a.log.Warn("queue restore failed, starting empty", logger.Error(err))
	}

	a.stopHealth = a.cachePool.StartHealthLoop()

	// Boot backfill: one pass over every section before the periodic loop.
	a.rotation.Backfill(ctx)
	a.rotation.Start(ctx)

	g, workCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.jobQueue.Run(workCtx, a.enrich)
	})
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-workCtx.Done()
		a.shutdown()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown stops accepting work, then closes adapters.
func (a *App) shutdown() {
	a.log.Info("shutting down")

	a.jobQueue.Shutdown()
	a.rotation.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := a.server.Stop(ctx); err != nil {
		a.log.Warn("http server shutdown failed", logger.Error(err))
	}
	if a.stopHealth != nil {
		a.stopHealth()
	}
	if err := a.cachePool.Close(); err != nil {
		a.log.Warn("cache pool close failed", logger.Error(err))
	}
	if err := a.storeMongo.Close(ctx); err != nil {
		a.log.Warn("store close failed", logger.Error(err))
	}

	_ = a.log.Sync()
}
