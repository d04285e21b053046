package enricher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsflow/internal/ai"
	"github.com/jonesrussell/newsflow/internal/cache"
	"github.com/jonesrussell/newsflow/internal/cachepool"
	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/errkind"
	"github.com/jonesrussell/newsflow/internal/keypool"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/store"
)

// scriptedProvider returns queued results or a fixed error.
type scriptedProvider struct {
	text  string
	err   error
	calls int
}

func (p *scriptedProvider) Generate(_ context.Context, _ string, _ ai.Request) (ai.Result, error) {
	p.calls++
	if p.err != nil {
		return ai.Result{}, p.err
	}
	return ai.Result{Text: p.text, TokensUsed: 600}, nil
}

func newTestEnricher(t *testing.T, provider ai.Provider) (*Enricher, *cache.Cache, *store.MemStore) {
	t.Helper()

	pool := cachepool.NewDisabled(logger.NewNop())
	t.Cleanup(func() { _ = pool.Close() })
	c := cache.New(pool, 20, logger.NewNop())
	st := store.NewMem()

	keys, err := keypool.NewAIPool([]string{"key-1", "key-2"}, logger.NewNop())
	require.NoError(t, err)

	e := New(c, st, keys, provider, logger.NewNop())
	e.backoff = 0 // no sleeping in tests
	return e, c, st
}

func enrichable(id string) *domain.Article {
	return &domain.Article{
		ID:            id,
		Title:         "Markets rally on rate cut",
		Abstract:      "Stocks climbed after the announcement.",
		URL:           "https://example.com/" + id,
		Section:       domain.SectionBusiness,
		PublishedDate: time.Now().Add(-2 * time.Hour),
	}
}

func TestEnrich_GeneratesCachesAndPersists(t *testing.T) {
	provider := &scriptedProvider{text: "Key Points: ...\n\nImpact Analysis: ...\n\nFuture Outlook: ..."}
	e, c, st := newTestEnricher(t, provider)
	ctx := context.Background()

	a := enrichable("a1")
	require.NoError(t, st.UpsertByURL(ctx, a))

	require.NoError(t, e.Enrich(ctx, a))

	assert.True(t, a.Complete())
	assert.Equal(t, domain.CommentaryAI, a.CommentarySrc)
	assert.False(t, a.CommentaryGeneratedAt.IsZero())

	// Commentary cached under its own key.
	cached, err := c.Get(ctx, cache.CommentaryKey("a1"))
	require.NoError(t, err)
	assert.Equal(t, provider.text, cached)

	// Full snapshot cached for read clients.
	var snap map[string]any
	require.NoError(t, c.GetJSON(ctx, cache.ArticleKey("a1"), &snap))
	assert.Equal(t, provider.text, snap["aiCommentary"])
	assert.NotEmpty(t, snap["_cachedAt"])

	// Store carries the commentary.
	got, err := st.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, provider.text, got.AICommentary)
	assert.Equal(t, domain.CommentaryAI, got.CommentarySrc)
}

func TestEnrich_CacheHitSkipsProvider(t *testing.T) {
	provider := &scriptedProvider{text: "generated"}
	e, c, _ := newTestEnricher(t, provider)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, cache.CommentaryKey("hit"), "cached commentary", cache.ClassCommentary))

	a := enrichable("hit")
	require.NoError(t, e.Enrich(ctx, a))

	assert.Equal(t, "cached commentary", a.AICommentary)
	assert.Zero(t, provider.calls, "cache hit must not call the provider")
}

func TestEnrich_RateLimitPropagates(t *testing.T) {
	provider := &scriptedProvider{err: errkind.Newf(errkind.RateLimit, "429")}
	e, _, _ := newTestEnricher(t, provider)

	err := e.Enrich(context.Background(), enrichable("rl"))
	require.Error(t, err)
	// Both credentials quarantine, so the pool exhausts.
	assert.Equal(t, errkind.Exhausted, errkind.Of(err))
}

func TestEnrich_EmptyIDRejected(t *testing.T) {
	e, _, _ := newTestEnricher(t, &scriptedProvider{text: "x"})

	err := e.Enrich(context.Background(), &domain.Article{Title: "no id"})
	assert.ErrorIs(t, err, ErrEmptyArticleID)
}

func TestEnrichWithFallback_TerminalFailureWritesFallback(t *testing.T) {
	provider := &scriptedProvider{err: errkind.Newf(errkind.RateLimit, "quota exhausted")}
	e, c, st := newTestEnricher(t, provider)
	ctx := context.Background()

	a := enrichable("fb")
	require.NoError(t, st.UpsertByURL(ctx, a))

	src := e.EnrichWithFallback(ctx, a)

	assert.Equal(t, domain.CommentaryFallback, src)
	assert.True(t, a.Complete(), "fallback must leave the article complete")
	for _, section := range []string{"Key Points", "Impact Analysis", "Future Outlook"} {
		assert.Contains(t, a.AICommentary, section)
	}

	// Fallback commentary lands in cache and store.
	cached, err := c.Get(ctx, cache.CommentaryKey("fb"))
	require.NoError(t, err)
	assert.Equal(t, a.AICommentary, cached)

	got, err := st.FindByID(ctx, "fb")
	require.NoError(t, err)
	assert.Equal(t, domain.CommentaryFallback, got.CommentarySrc)
}

func TestEnrichWithFallback_SucceedsOnFirstTry(t *testing.T) {
	provider := &scriptedProvider{text: "solid analysis"}
	e, _, st := newTestEnricher(t, provider)
	ctx := context.Background()

	a := enrichable("ok")
	require.NoError(t, st.UpsertByURL(ctx, a))

	src := e.EnrichWithFallback(ctx, a)
	assert.Equal(t, domain.CommentaryAI, src)
	assert.Equal(t, 1, provider.calls)
}

func TestEnrich_EphemeralIDSkipsStore(t *testing.T) {
	provider := &scriptedProvider{text: "temp analysis"}
	e, c, st := newTestEnricher(t, provider)
	ctx := context.Background()

	a := enrichable("temp-123")
	require.NoError(t, e.Enrich(ctx, a))

	// Cached but never persisted.
	_, err := c.Get(ctx, cache.CommentaryKey("temp-123"))
	require.NoError(t, err)

	_, err = st.FindByID(ctx, "temp-123")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFallbackCommentary_Deterministic(t *testing.T) {
	first := fallbackCommentary("Big Story", "world")
	second := fallbackCommentary("Big Story", "world")
	assert.Equal(t, first, second)
	assert.True(t, strings.Contains(first, "Big Story"))
}

func TestBuildPrompt_ConstrainsSections(t *testing.T) {
	prompt := buildPrompt("Headline", "Summary text", "politics")

	for _, section := range commentarySections {
		assert.Contains(t, prompt, section)
	}
	assert.Contains(t, prompt, "Headline")
	assert.Contains(t, prompt, "politics")
}
