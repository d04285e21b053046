package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
)

// MemStore is an in-memory Store. It is the degraded-read fallback behind
// the resilient wrapper and the double used throughout the tests.
type MemStore struct {
	mu    sync.RWMutex
	byURL map[string]*domain.Article
	byID  map[string]*domain.Article
}

var _ Store = (*MemStore)(nil)

// NewMem creates an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{
		byURL: make(map[string]*domain.Article),
		byID:  make(map[string]*domain.Article),
	}
}

func (m *MemStore) UpsertByURL(_ context.Context, a *domain.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byURL[a.URL]
	if !ok {
		clone := *a
		m.byURL[a.URL] = &clone
		m.byID[clone.ID] = &clone
		return nil
	}

	existing.Title = a.Title
	existing.Abstract = a.Abstract
	existing.PublishedDate = a.PublishedDate
	existing.Byline = a.Byline
	existing.ImageURL = a.ImageURL
	existing.Source = a.Source
	existing.Section = a.Section
	existing.Keywords = a.Keywords
	if a.AICommentary != "" {
		existing.AICommentary = a.AICommentary
		existing.CommentaryGeneratedAt = a.CommentaryGeneratedAt
		existing.CommentarySrc = a.CommentarySrc
	}
	return nil
}

func (m *MemStore) UpdateCommentary(_ context.Context, articleID, commentary string, src domain.CommentarySource, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[articleID]
	if !ok {
		return ErrNotFound
	}
	a.AICommentary = commentary
	a.CommentaryGeneratedAt = at
	a.CommentarySrc = src
	return nil
}

func (m *MemStore) FindByURL(_ context.Context, url string) (*domain.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (m *MemStore) FindByID(_ context.Context, id string) (*domain.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (m *MemStore) CountBy(_ context.Context, f Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, a := range m.byURL {
		if f.Section != "" && a.Section != f.Section {
			continue
		}
		if f.Enriched != nil && a.Complete() != *f.Enriched {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemStore) AggregateCountsBySection(_ context.Context) (map[domain.Section]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.Section]int64)
	for _, a := range m.byURL {
		if a.Complete() {
			counts[a.Section]++
		}
	}
	return counts, nil
}

func (m *MemStore) Ping(context.Context) error {
	return nil
}

func (m *MemStore) Close(context.Context) error {
	return nil
}
