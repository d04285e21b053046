package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/errkind"
	"github.com/jonesrussell/newsflow/internal/keypool"
)

// headlinesBaseURL is publisher B's category headlines endpoint.
const headlinesBaseURL = "https://newsapi.org/v2/top-headlines"

// headlinesPageSize bounds one pull.
const headlinesPageSize = 10

// HeadlinesSource pulls publisher B's category headlines through its own
// credential pool (five request-metered keys).
type HeadlinesSource struct {
	pool   *keypool.Pool
	client *http.Client
}

var _ Source = (*HeadlinesSource)(nil)

// NewHeadlines creates the publisher B source.
func NewHeadlines(pool *keypool.Pool) *HeadlinesSource {
	return &HeadlinesSource{pool: pool, client: newHTTPClient()}
}

func (s *HeadlinesSource) Name() string { return "headlines" }

// sectionCategory maps our sections onto publisher B's category vocabulary.
var sectionCategory = map[domain.Section]string{
	domain.SectionFinance: "business",
	domain.SectionScience: "science",
}

type headlineItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Author      string `json:"author"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

type headlinesResponse struct {
	Status   string         `json:"status"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Articles []headlineItem `json:"articles"`
}

func (s *HeadlinesSource) Fetch(ctx context.Context, section domain.Section) ([]domain.Article, error) {
	category, ok := sectionCategory[section]
	if !ok {
		category = string(section)
	}

	var items []headlineItem
	err := s.pool.Dispatch(ctx, func(ctx context.Context, secret string) (int64, error) {
		endpoint := fmt.Sprintf("%s?category=%s&language=en&pageSize=%d&apiKey=%s",
			headlinesBaseURL, url.QueryEscape(category), headlinesPageSize, url.QueryEscape(secret))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return 0, errkind.New(errkind.UpstreamTransient, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return 0, errkind.New(errkind.UpstreamTransient, err)
		}

		if resp.StatusCode != http.StatusOK {
			if kind := errkind.FromStatus(resp.StatusCode); kind != errkind.Unknown {
				return 0, errkind.Newf(kind, "headlines %s: status %d", category, resp.StatusCode)
			}
			return 0, fmt.Errorf("headlines %s: status %d", category, resp.StatusCode)
		}

		var parsed headlinesResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return 0, fmt.Errorf("decode headlines response: %w", err)
		}
		// Publisher B reports quota breaches inside a 200 body.
		if parsed.Status == "error" {
			if parsed.Code == "rateLimited" {
				return 0, errkind.Newf(errkind.RateLimit, "headlines: %s", parsed.Message)
			}
			return 0, fmt.Errorf("headlines: %s (%s)", parsed.Message, parsed.Code)
		}
		items = parsed.Articles
		return 1, nil
	})
	if err != nil {
		return nil, err
	}

	articles := make([]domain.Article, 0, len(items))
	for _, item := range items {
		if a, ok := s.normalize(item, section); ok {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

func (s *HeadlinesSource) normalize(item headlineItem, section domain.Section) (domain.Article, bool) {
	if item.URL == "" || item.Title == "" || strings.EqualFold(item.Title, "[Removed]") {
		return domain.Article{}, false
	}

	published, _ := time.Parse(time.RFC3339, item.PublishedAt)

	sourceName := s.Name()
	if item.Source.Name != "" {
		sourceName = item.Source.Name
	}

	return domain.Article{
		ID:            articleID(item.URL),
		Title:         item.Title,
		Abstract:      item.Description,
		URL:           item.URL,
		PublishedDate: published,
		Byline:        item.Author,
		ImageURL:      item.URLToImage,
		Source:        sourceName,
		Section:       section,
	}, true
}
