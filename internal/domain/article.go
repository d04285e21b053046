// Package domain holds the canonical records shared by every newsflow component.
package domain

import "time"

// CommentarySource records how an article's commentary was produced.
type CommentarySource string

const (
	// CommentaryAI marks commentary produced by the AI provider.
	CommentaryAI CommentarySource = "ai"
	// CommentaryFallback marks deterministic template commentary written
	// after AI generation permanently failed.
	CommentaryFallback CommentarySource = "fallback"
)

// Article is the canonical article shape. Raw upstream items are normalized
// into this record at the source-adapter boundary and never carried past it.
type Article struct {
	ID            string    `bson:"_id,omitempty" json:"id"`
	Title         string    `bson:"title"          json:"title"`
	Abstract      string    `bson:"abstract"       json:"abstract"`
	URL           string    `bson:"url"            json:"url"`
	PublishedDate time.Time `bson:"publishedDate"  json:"publishedDate"`
	Byline        string    `bson:"byline,omitempty"   json:"byline,omitempty"`
	ImageURL      string    `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Source        string    `bson:"source"         json:"source"`
	Section       Section   `bson:"section"        json:"section"`
	Keywords      []string  `bson:"keywords,omitempty" json:"keywords,omitempty"`

	// AICommentary present and non-empty means the article is complete.
	AICommentary          string           `bson:"aiCommentary,omitempty"          json:"aiCommentary,omitempty"`
	CommentaryGeneratedAt time.Time        `bson:"commentaryGeneratedAt,omitempty" json:"commentaryGeneratedAt,omitempty"`
	CommentarySrc         CommentarySource `bson:"commentarySource,omitempty"      json:"commentarySource,omitempty"`
}

// Complete reports whether the article carries commentary. The cache tier
// must never expose an incomplete article.
func (a *Article) Complete() bool {
	return a.AICommentary != ""
}

// Ephemeral reports whether the article id is temporary. Ephemeral articles
// may be cached but never persisted or listed in section FIFOs.
func (a *Article) Ephemeral() bool {
	return isTempID(a.ID)
}

const tempIDPrefix = "temp-"

func isTempID(id string) bool {
	return len(id) >= len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}
