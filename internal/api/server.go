// Package api exposes the read-only HTTP surface: article and section reads
// through the cache tier, the observability stats endpoints, health, and
// prometheus metrics. No write path originates here.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/newsflow/internal/cache"
	"github.com/jonesrussell/newsflow/internal/cachepool"
	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/health"
	"github.com/jonesrussell/newsflow/internal/keypool"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/queue"
	"github.com/jonesrussell/newsflow/internal/scheduler"
	"github.com/jonesrussell/newsflow/internal/store"
	"github.com/jonesrussell/newsflow/internal/threshold"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 15 * time.Second
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 5 * time.Second
)

// Deps are the services the API reads from.
type Deps struct {
	Cache      *cache.Cache
	Store      store.Store
	Queue      *queue.Queue
	Scheduler  *scheduler.Scheduler
	Gate       *threshold.Gate
	AIPool     *keypool.Pool
	Publishers map[string]*keypool.Pool
	ShardStats func() []cachepool.ShardStats
	Health     *health.Checker
	Log        logger.Logger
}

// Server is the HTTP adapter.
type Server struct {
	deps Deps
	http *http.Server
	log  logger.Logger
}

// New builds the router and server.
func New(addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	s := &Server{
		deps: deps,
		log:  deps.Log,
		http: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}
	s.routes(router)
	return s
}

// requestID tags every response so upstream proxies and logs correlate.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/articles/:id", s.handleArticle)
		api.GET("/sections/:section", s.handleSection)

		stats := api.Group("/stats")
		{
			stats.GET("/queue", s.handleQueueStats)
			stats.GET("/credentials", s.handleCredentialStats)
			stats.GET("/shards", s.handleShardStats)
			stats.GET("/threshold", s.handleThreshold)
			stats.GET("/rotation", s.handleRotation)
		}
	}
}

// Start serves until the listener fails.
func (s *Server) Start() error {
	s.log.Info("api: listening", logger.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status, results := s.deps.Health.Run(ctx)
	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"checks":    results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleArticle reads one article: cached snapshot first, then the store.
// An incomplete store article is returned with commentaryQueued=true and a
// high-priority enrichment job submitted; clients never see a half-enriched
// article presented as complete.
func (s *Server) handleArticle(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var snapshot map[string]any
	if err := s.deps.Cache.GetJSON(ctx, cache.ArticleKey(id), &snapshot); err == nil {
		c.JSON(http.StatusOK, snapshot)
		return
	}

	article, err := s.deps.Store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	if article.Complete() {
		c.JSON(http.StatusOK, article)
		return
	}

	if _, err := s.deps.Queue.Submit(ctx, article, queue.SubmitOptions{Priority: 1}); err != nil {
		s.log.Warn("api: failed to queue enrichment for incomplete article",
			logger.String("article_id", id),
			logger.Error(err),
		)
	}
	c.JSON(http.StatusOK, gin.H{
		"article":          article,
		"commentaryQueued": true,
	})
}

// handleSection lists the section's published article ids with their cached
// snapshots. Only complete articles appear; before the threshold gate opens
// the list is simply empty.
func (s *Server) handleSection(c *gin.Context) {
	section := domain.Section(c.Param("section"))
	if !section.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown section"})
		return
	}
	ctx := c.Request.Context()

	ids, err := s.deps.Cache.SectionArticles(ctx, string(section), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache unavailable"})
		return
	}

	articles := make([]any, 0, len(ids))
	for _, id := range ids {
		var snapshot map[string]any
		if err := s.deps.Cache.GetJSON(ctx, cache.ArticleKey(id), &snapshot); err == nil {
			articles = append(articles, snapshot)
			continue
		}
		a, err := s.deps.Store.FindByID(ctx, id)
		if err == nil && a.Complete() {
			articles = append(articles, a)
		}
	}

	// Feed the homepage hot list from the read path.
	if len(ids) > 0 {
		if err := s.deps.Cache.PushToList(ctx, cache.HomepageKey, ids, 20); err != nil {
			s.log.Debug("api: homepage hot list push failed", logger.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"section":  section,
		"count":    len(articles),
		"articles": articles,
	})
}

func (s *Server) handleQueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Queue.Stats())
}

func (s *Server) handleCredentialStats(c *gin.Context) {
	out := gin.H{"ai": s.deps.AIPool.Stats()}
	for name, pool := range s.deps.Publishers {
		out[name] = pool.Stats()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleShardStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"shards": s.deps.ShardStats()})
}

func (s *Server) handleThreshold(c *gin.Context) {
	status, err := s.deps.Gate.Check(c.Request.Context(), false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleRotation(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scheduler.Status())
}
