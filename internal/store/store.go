// Package store persists canonical articles in a document store, keyed by URL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
)

// ErrNotFound is returned when no article matches.
var ErrNotFound = errors.New("store: article not found")

// Filter narrows count queries.
type Filter struct {
	Section  domain.Section
	Enriched *bool // non-empty aiCommentary
}

// Store is the document-store surface the core consumes. Every other
// component reaches the database through this interface only.
type Store interface {
	// UpsertByURL inserts or merges the article, keyed on URL. Duplicate
	// URLs collapse into one document.
	UpsertByURL(ctx context.Context, article *domain.Article) error

	// UpdateCommentary attaches commentary to an existing article by id.
	UpdateCommentary(ctx context.Context, articleID, commentary string, src domain.CommentarySource, at time.Time) error

	// FindByURL returns the article with the given URL, or ErrNotFound.
	FindByURL(ctx context.Context, url string) (*domain.Article, error)

	// FindByID returns the article with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*domain.Article, error)

	// CountBy counts articles matching the filter.
	CountBy(ctx context.Context, f Filter) (int64, error)

	// AggregateCountsBySection counts enriched articles per section.
	AggregateCountsBySection(ctx context.Context) (map[domain.Section]int64, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close(ctx context.Context) error
}
