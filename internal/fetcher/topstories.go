package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/errkind"
	"github.com/jonesrussell/newsflow/internal/keypool"
)

// topStoriesBaseURL is the curated per-section feed of publisher A.
const topStoriesBaseURL = "https://api.nytimes.com/svc/topstories/v2"

// TopStoriesSource pulls publisher A's per-section top stories. Every call
// goes through the credential pool so key rotation and daily quotas apply.
type TopStoriesSource struct {
	pool   *keypool.Pool
	client *http.Client
}

var _ Source = (*TopStoriesSource)(nil)

// NewTopStories creates the publisher A source.
func NewTopStories(pool *keypool.Pool) *TopStoriesSource {
	return &TopStoriesSource{pool: pool, client: newHTTPClient()}
}

func (s *TopStoriesSource) Name() string { return "top-stories" }

// topStoryItem is the raw upstream shape; it stays inside this adapter.
type topStoryItem struct {
	Title         string   `json:"title"`
	Abstract      string   `json:"abstract"`
	URL           string   `json:"url"`
	Byline        string   `json:"byline"`
	Section       string   `json:"section"`
	PublishedDate string   `json:"published_date"`
	DesFacet      []string `json:"des_facet"`
	Multimedia    []struct {
		URL    string `json:"url"`
		Format string `json:"format"`
	} `json:"multimedia"`
}

type topStoriesResponse struct {
	Status  string         `json:"status"`
	Results []topStoryItem `json:"results"`
}

func (s *TopStoriesSource) Fetch(ctx context.Context, section domain.Section) ([]domain.Article, error) {
	var items []topStoryItem

	err := s.pool.Dispatch(ctx, func(ctx context.Context, secret string) (int64, error) {
		endpoint := fmt.Sprintf("%s/%s.json?api-key=%s", topStoriesBaseURL, section, url.QueryEscape(secret))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return 0, errkind.New(errkind.UpstreamTransient, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if kind := errkind.FromStatus(resp.StatusCode); kind != errkind.Unknown {
				return 0, errkind.Newf(kind, "top-stories %s: status %d: %s", section, resp.StatusCode, body)
			}
			return 0, fmt.Errorf("top-stories %s: status %d: %s", section, resp.StatusCode, body)
		}

		var parsed topStoriesResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return 0, fmt.Errorf("decode top-stories response: %w", err)
		}
		items = parsed.Results
		return 1, nil
	})
	if err != nil {
		return nil, err
	}

	articles := make([]domain.Article, 0, len(items))
	for _, item := range items {
		a, ok := s.normalize(item, section)
		if ok {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

// normalize maps the raw item onto the canonical shape. Items without a URL
// or title are dropped.
func (s *TopStoriesSource) normalize(item topStoryItem, section domain.Section) (domain.Article, bool) {
	if item.URL == "" || item.Title == "" {
		return domain.Article{}, false
	}

	published, _ := time.Parse(time.RFC3339, item.PublishedDate)

	var image string
	for _, m := range item.Multimedia {
		if m.URL != "" {
			image = m.URL
			break
		}
	}

	return domain.Article{
		ID:            articleID(item.URL),
		Title:         item.Title,
		Abstract:      item.Abstract,
		URL:           item.URL,
		PublishedDate: published,
		Byline:        item.Byline,
		ImageURL:      image,
		Source:        s.Name(),
		Section:       section,
		Keywords:      item.DesFacet,
	}, true
}
