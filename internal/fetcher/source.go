// Package fetcher pulls raw items from publisher upstreams, normalizes them
// to the canonical article shape, and drives inline enrichment per item.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
)

// publisherTimeout is the deadline for any single upstream call.
const publisherTimeout = 15 * time.Second

// Source pulls one batch of already-normalized articles for a section.
// Raw upstream shapes never escape a Source implementation.
type Source interface {
	Name() string
	Fetch(ctx context.Context, section domain.Section) ([]domain.Article, error)
}

// newHTTPClient returns the client used by the API-backed sources.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: publisherTimeout}
}

// articleID derives a stable id from the article URL for upstreams that
// don't hand one out.
func articleID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
