package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type apiFixture struct {
	server *Server
	cache  *cache.Cache
	store  *store.MemStore
	queue  *queue.Queue
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.NewNop()

	pool := cachepool.NewDisabled(log)
	t.Cleanup(func() { _ = pool.Close() })
	c := cache.New(pool, 20, log)
	st := store.NewMem()
	q := queue.New(c, st, log)
	gate := threshold.New(st, 1, log)

	aiPool, err := keypool.NewAIPool([]string{"k"}, log)
	require.NoError(t, err)

	sched := scheduler.New(domain.Sections, nil, gate, time.Hour, log)

	checker := health.NewChecker()
	checker.Register("store", st.Ping)
	checker.Register("cache", pool.Ping)

	srv := New(":0", Deps{
		Cache:      c,
		Store:      st,
		Queue:      q,
		Scheduler:  sched,
		Gate:       gate,
		AIPool:     aiPool,
		Publishers: map[string]*keypool.Pool{},
		ShardStats: pool.Stats,
		Health:     checker,
		Log:        log,
	})
	return &apiFixture{server: srv, cache: c, store: st, queue: q}
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestArticle_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/articles/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArticle_CompleteFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := &domain.Article{
		ID:           "a1",
		Title:        "Done",
		URL:          "https://example.com/a1",
		Section:      domain.SectionWorld,
		AICommentary: "full analysis",
	}
	require.NoError(t, f.store.UpsertByURL(ctx, a))

	rec := f.get(t, "/api/articles/a1")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "full analysis", body["aiCommentary"])
	assert.Nil(t, body["commentaryQueued"])
}

func TestArticle_IncompleteQueuesEnrichment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := &domain.Article{
		ID:      "raw1",
		Title:   "Raw",
		URL:     "https://example.com/raw1",
		Section: domain.SectionWorld,
	}
	require.NoError(t, f.store.UpsertByURL(ctx, a))

	rec := f.get(t, "/api/articles/raw1")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["commentaryQueued"],
		"incomplete article must be flagged, never shown as complete")

	stats := f.queue.Stats()
	assert.Equal(t, 1, stats.Waiting, "read path must submit a high-priority job")
}

func TestSection_UnknownIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/sections/gossip")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSection_EmptyBeforeGateOpens(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/sections/technology")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count    int   `json:"count"`
		Articles []any `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
	assert.Empty(t, body.Articles)
}

func TestSection_ListsPublishedArticles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := &domain.Article{
		ID:           "s1",
		Title:        "Published",
		URL:          "https://example.com/s1",
		Section:      domain.SectionTechnology,
		AICommentary: "analysis",
	}
	require.NoError(t, f.store.UpsertByURL(ctx, a))
	_, err := f.cache.SectionFIFO(ctx, string(domain.SectionTechnology), []string{"s1"})
	require.NoError(t, err)

	rec := f.get(t, "/api/sections/technology")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/api/stats/queue",
		"/api/stats/credentials",
		"/api/stats/shards",
		"/api/stats/threshold",
		"/api/stats/rotation",
	} {
		rec := f.get(t, path)
		assert.Equal(t, http.StatusOK, rec.Code, "endpoint %s", path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newsflow_")
}
