package fetcher

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/jonesrussell/newsflow/internal/domain"
)

// RSS feeds for the sections no API publisher covers.
var sectionFeeds = map[domain.Section][]string{
	domain.SectionFood: {
		"https://rss.nytimes.com/services/xml/rss/nyt/DiningandWine.xml",
	},
	domain.SectionTravel: {
		"https://rss.nytimes.com/services/xml/rss/nyt/Travel.xml",
	},
}

// rssBatchSize bounds items taken per feed.
const rssBatchSize = 10

// RSSSource pulls syndicated feeds. Feeds are unauthenticated, so no
// credential pool is involved.
type RSSSource struct {
	parser *gofeed.Parser
}

var _ Source = (*RSSSource)(nil)

// NewRSS creates the feed-backed source.
func NewRSS() *RSSSource {
	return &RSSSource{parser: gofeed.NewParser()}
}

func (s *RSSSource) Name() string { return "rss" }

func (s *RSSSource) Fetch(ctx context.Context, section domain.Section) ([]domain.Article, error) {
	var articles []domain.Article
	for _, feedURL := range sectionFeeds[section] {
		feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			return articles, err
		}
		for i, item := range feed.Items {
			if i >= rssBatchSize {
				break
			}
			if a, ok := s.normalize(item, section); ok {
				articles = append(articles, a)
			}
		}
	}
	return articles, nil
}

func (s *RSSSource) normalize(item *gofeed.Item, section domain.Section) (domain.Article, bool) {
	if item == nil || item.Link == "" || item.Title == "" {
		return domain.Article{}, false
	}

	a := domain.Article{
		ID:       articleID(item.Link),
		Title:    strings.TrimSpace(item.Title),
		Abstract: stripHTML(item.Description),
		URL:      item.Link,
		Source:   s.Name(),
		Section:  section,
		Keywords: item.Categories,
	}
	if item.PublishedParsed != nil {
		a.PublishedDate = *item.PublishedParsed
	}
	if item.Author != nil {
		a.Byline = item.Author.Name
	}
	if item.Image != nil {
		a.ImageURL = item.Image.URL
	}
	return a, true
}

// stripHTML flattens feed descriptions that arrive as markup.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
