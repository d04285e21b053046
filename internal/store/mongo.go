package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jonesrussell/newsflow/internal/domain"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/retry"
)

// Serverless-friendly connection policy: one pooled connection, fail fast on
// selection, generous socket timeout for aggregation.
const (
	maxPoolSize            = 1
	serverSelectionTimeout = 5 * time.Second
	socketTimeout          = 20 * time.Second
	connectAttempts        = 5

	articlesCollection = "articles"
)

// MongoStore is the production Store backed by MongoDB.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logger.Logger
}

var _ Store = (*MongoStore)(nil)

// NewMongo connects with bounded-backoff retries and ensures indexes.
func NewMongo(ctx context.Context, uri, database string, log logger.Logger) (*MongoStore, error) {
	if log == nil {
		log = logger.NewNop()
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPoolSize).
		SetServerSelectionTimeout(serverSelectionTimeout).
		SetSocketTimeout(socketTimeout)

	var client *mongo.Client
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  connectAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		IsRetryable:  func(error) bool { return true },
	}, func() error {
		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx, nil); err != nil {
			_ = c.Disconnect(ctx)
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(articlesCollection),
		log:    log,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		log.Warn("store: index creation failed", logger.Error(err))
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "section", Value: 1}, {Key: "publishedDate", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "aiCommentary", Value: 1}, {Key: "section", Value: 1}},
		},
	})
	return err
}

// UpsertByURL inserts or merges, keyed on url. Commentary fields already in
// the document win over empty incoming values so a refresh of metadata never
// un-enriches an article.
func (s *MongoStore) UpsertByURL(ctx context.Context, a *domain.Article) error {
	set := bson.M{
		"title":         a.Title,
		"abstract":      a.Abstract,
		"url":           a.URL,
		"publishedDate": a.PublishedDate,
		"byline":        a.Byline,
		"imageUrl":      a.ImageURL,
		"source":        a.Source,
		"section":       a.Section,
		"keywords":      a.Keywords,
	}
	if a.AICommentary != "" {
		set["aiCommentary"] = a.AICommentary
		set["commentaryGeneratedAt"] = a.CommentaryGeneratedAt
		set["commentarySource"] = a.CommentarySrc
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"_id": a.ID},
	}

	_, err := s.coll.UpdateOne(ctx, bson.M{"url": a.URL}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert article %s: %w", a.URL, err)
	}
	return nil
}

func (s *MongoStore) UpdateCommentary(ctx context.Context, articleID, commentary string, src domain.CommentarySource, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": articleID}, bson.M{
		"$set": bson.M{
			"aiCommentary":          commentary,
			"commentaryGeneratedAt": at,
			"commentarySource":      src,
		},
	})
	if err != nil {
		return fmt.Errorf("update commentary for %s: %w", articleID, err)
	}
	return nil
}

func (s *MongoStore) FindByURL(ctx context.Context, url string) (*domain.Article, error) {
	return s.findOne(ctx, bson.M{"url": url})
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*domain.Article, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*domain.Article, error) {
	var a domain.Article
	err := s.coll.FindOne(ctx, filter).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find article: %w", err)
	}
	return &a, nil
}

func (s *MongoStore) CountBy(ctx context.Context, f Filter) (int64, error) {
	filter := bson.M{}
	if f.Section != "" {
		filter["section"] = f.Section
	}
	if f.Enriched != nil {
		if *f.Enriched {
			filter["aiCommentary"] = bson.M{"$exists": true, "$ne": ""}
		} else {
			filter["$or"] = bson.A{
				bson.M{"aiCommentary": bson.M{"$exists": false}},
				bson.M{"aiCommentary": ""},
			}
		}
	}

	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func (s *MongoStore) AggregateCountsBySection(ctx context.Context) (map[domain.Section]int64, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"aiCommentary": bson.M{"$exists": true, "$ne": ""},
		}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$section",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate section counts: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Section domain.Section `bson:"_id"`
		Count   int64          `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode section counts: %w", err)
	}

	counts := make(map[domain.Section]int64, len(rows))
	for _, row := range rows {
		counts[row.Section] = row.Count
	}
	return counts, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
