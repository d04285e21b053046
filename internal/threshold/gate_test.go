package threshold

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/store"
)

func seedEnriched(t *testing.T, st *store.MemStore, section domain.Section, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		a := &domain.Article{
			ID:           fmt.Sprintf("%s-%d", section, i),
			Title:        "t",
			URL:          fmt.Sprintf("https://example.com/%s/%d", section, i),
			Section:      section,
			AICommentary: "words",
		}
		require.NoError(t, st.UpsertByURL(context.Background(), a))
	}
}

func TestCheck_GateClosedUntilEverySectionMeets(t *testing.T) {
	st := store.NewMem()
	g := New(st, 2, logger.NewNop())
	ctx := context.Background()

	// Only one section has enough enriched articles.
	seedEnriched(t, st, domain.SectionWorld, 2)

	status, err := g.Check(ctx, true)
	require.NoError(t, err)
	assert.False(t, status.Met)
	assert.False(t, g.Open(ctx))

	for _, sec := range status.Sections {
		if sec.Section == domain.SectionWorld {
			assert.True(t, sec.Met)
			assert.EqualValues(t, 2, sec.Count)
		} else {
			assert.False(t, sec.Met)
		}
	}
}

func TestCheck_GateOpensWhenAllSectionsMeet(t *testing.T) {
	st := store.NewMem()
	g := New(st, 1, logger.NewNop())
	ctx := context.Background()

	for _, section := range domain.Sections {
		seedEnriched(t, st, section, 1)
	}

	status, err := g.Check(ctx, true)
	require.NoError(t, err)
	assert.True(t, status.Met)
	assert.True(t, g.Open(ctx))
}

func TestCheck_IncompleteArticlesDoNotCount(t *testing.T) {
	st := store.NewMem()
	g := New(st, 1, logger.NewNop())
	ctx := context.Background()

	// Unenriched article in every section.
	for _, section := range domain.Sections {
		a := &domain.Article{
			ID:      string(section) + "-raw",
			Title:   "t",
			URL:     "https://example.com/raw/" + string(section),
			Section: section,
		}
		require.NoError(t, st.UpsertByURL(ctx, a))
	}

	status, err := g.Check(ctx, true)
	require.NoError(t, err)
	assert.False(t, status.Met, "articles without commentary must not count")
}

func TestCheck_CachesResultWithinInterval(t *testing.T) {
	st := store.NewMem()
	g := New(st, 1, logger.NewNop())
	ctx := context.Background()

	first, err := g.Check(ctx, true)
	require.NoError(t, err)

	// New enriched data lands, but the cached answer holds without force.
	for _, section := range domain.Sections {
		seedEnriched(t, st, section, 1)
	}
	cached, err := g.Check(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first.CheckedAt, cached.CheckedAt)
	assert.False(t, cached.Met)

	forced, err := g.Check(ctx, true)
	require.NoError(t, err)
	assert.True(t, forced.Met)
}

func TestNew_DefaultThreshold(t *testing.T) {
	g := New(store.NewMem(), 0, logger.NewNop())
	status, err := g.Check(context.Background(), true)
	require.NoError(t, err)
	assert.EqualValues(t, 8, status.Threshold)
	assert.WithinDuration(t, time.Now(), status.CheckedAt, time.Minute)
}
