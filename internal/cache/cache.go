// Package cache is the application-facing tier over the shard pool: TTL
// classes, read-through population, pattern invalidation, and the bounded
// section lists read clients consume.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonesrussell/newsflow/internal/cachepool"
	"github.com/jonesrussell/newsflow/internal/logger"
)

// Class names an application-level TTL.
type Class string

const (
	// ClassCommentary holds AI commentary for a day.
	ClassCommentary Class = "commentary"
	// ClassArticle holds read-through article snapshots briefly.
	ClassArticle Class = "article"
	// ClassUpstream holds raw publisher responses.
	ClassUpstream Class = "upstream"
	// ClassShort is for cheap recomputable aggregates.
	ClassShort Class = "short"
	// ClassLong is for near-static values.
	ClassLong Class = "long"
)

// TTL returns the duration for the class.
func (c Class) TTL() time.Duration {
	switch c {
	case ClassCommentary:
		return 24 * time.Hour
	case ClassArticle:
		return 5 * time.Minute
	case ClassUpstream:
		return 30 * time.Minute
	case ClassShort:
		return time.Minute
	case ClassLong:
		return 7 * 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// ArticleSnapshotTTL is the longer TTL the enrichment worker uses when it
// writes a full article snapshot.
const ArticleSnapshotTTL = 30 * time.Minute

// Key builders for the shared cache namespace.
func CommentaryKey(articleID string) string { return "commentary:" + articleID }
func ArticleKey(articleID string) string    { return "article:" + articleID }
func SectionKey(section string) string      { return fmt.Sprintf("section:%s:articles", section) }

// HomepageKey is the hot-list of top article ids.
const HomepageKey = "homepage:top20"

// Cache wraps the shard pool with application semantics.
type Cache struct {
	pool  cachepool.Client
	sf    singleflight.Group
	log   logger.Logger
	maxed int // FIFO cap per section
}

// New creates the cache facade. maxSection caps each section FIFO.
func New(pool cachepool.Client, maxSection int, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNop()
	}
	if maxSection <= 0 {
		maxSection = 20
	}
	return &Cache{pool: pool, log: log, maxed: maxSection}
}

// Pool exposes the underlying shard pool for components that persist their
// own state through it (the job queue).
func (c *Cache) Pool() cachepool.Client {
	return c.pool
}

// Get returns the raw cached value, or cachepool.ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	return c.pool.Get(ctx, key)
}

// Set stores a raw value under the class TTL.
func (c *Cache) Set(ctx context.Context, key, value string, class Class) error {
	return c.pool.Set(ctx, key, value, class.TTL())
}

// SetEx stores a raw value with an explicit TTL.
func (c *Cache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.pool.Set(ctx, key, value, ttl)
}

// SetJSON marshals v and stores it with an explicit TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.pool.Set(ctx, key, string(data), ttl)
}

// GetJSON reads key and unmarshals it into out.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := c.pool.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// GetOrSet returns the cached value for key, or invokes fetch exactly once
// (concurrent callers of the same key share the flight), stores the result
// under the class TTL, and returns it. A cache write failure never masks a
// fetch error, and never fails a successful fetch.
func (c *Cache) GetOrSet(ctx context.Context, key string, class Class, fetch func(ctx context.Context) (string, error)) (string, error) {
	if val, err := c.pool.Get(ctx, key); err == nil {
		return val, nil
	} else if !errors.Is(err, cachepool.ErrNotFound) {
		c.log.Warn("cache read failed, fetching through",
			logger.String("key", key),
			logger.Error(err),
		)
	}

	val, err, _ := c.sf.Do(key, func() (any, error) {
		fetched, fetchErr := fetch(ctx)
		if fetchErr != nil {
			return "", fetchErr
		}
		if setErr := c.pool.Set(ctx, key, fetched, class.TTL()); setErr != nil {
			c.log.Warn("cache write failed after fetch",
				logger.String("key", key),
				logger.Error(setErr),
			)
		}
		return fetched, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) (int64, error) {
	return c.pool.Del(ctx, keys...)
}

// Invalidate deletes keys matching each glob pattern and reports the count.
func (c *Cache) Invalidate(ctx context.Context, patterns ...string) (int64, error) {
	var deleted int64
	for _, pattern := range patterns {
		keys, err := c.pool.Keys(ctx, pattern)
		if err != nil {
			return deleted, fmt.Errorf("list keys for %q: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		n, err := c.pool.Del(ctx, keys...)
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("delete keys for %q: %w", pattern, err)
		}
	}
	return deleted, nil
}

// PushToList left-pushes ids onto listKey and trims it to maxLen. Used for
// the homepage top-N rotation.
func (c *Cache) PushToList(ctx context.Context, listKey string, ids []string, maxLen int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := c.pool.LPush(ctx, listKey, ids...); err != nil {
		return fmt.Errorf("push to %s: %w", listKey, err)
	}
	if err := c.pool.LTrim(ctx, listKey, 0, maxLen-1); err != nil {
		return fmt.Errorf("trim %s: %w", listKey, err)
	}
	return nil
}
