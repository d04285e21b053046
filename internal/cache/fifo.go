package cache

import (
	"context"
	"fmt"

	"github.com/jonesrussell/newsflow/internal/logger"
)

// FIFOResult reports what a section FIFO push did.
type FIFOResult struct {
	Added   int
	Removed int
}

// SectionFIFO right-pushes newIDs onto the section list and evicts from the
// left once the list exceeds the cap. Evicted ids lose their per-article
// cache keys in the same pass, so the list never references a snapshot that
// no longer exists.
func (c *Cache) SectionFIFO(ctx context.Context, section string, newIDs []string) (FIFOResult, error) {
	res := FIFOResult{}
	if len(newIDs) == 0 {
		return res, nil
	}

	listKey := SectionKey(section)
	if _, err := c.pool.RPush(ctx, listKey, newIDs...); err != nil {
		return res, fmt.Errorf("push section list %s: %w", listKey, err)
	}
	res.Added = len(newIDs)

	length, err := c.pool.LLen(ctx, listKey)
	if err != nil {
		return res, fmt.Errorf("len section list %s: %w", listKey, err)
	}

	excess := length - int64(c.maxed)
	if excess <= 0 {
		return res, nil
	}

	evicted, err := c.pool.LRange(ctx, listKey, 0, excess-1)
	if err != nil {
		return res, fmt.Errorf("read evictees of %s: %w", listKey, err)
	}

	if err := c.pool.LTrim(ctx, listKey, excess, -1); err != nil {
		return res, fmt.Errorf("trim section list %s: %w", listKey, err)
	}
	res.Removed = len(evicted)

	// Companion keys go in lock-step with list eviction.
	for _, id := range evicted {
		if _, err := c.pool.Del(ctx, ArticleKey(id)); err != nil {
			c.log.Warn("failed to delete evicted article key",
				logger.String("article_id", id),
				logger.Error(err),
			)
		}
	}

	return res, nil
}

// SectionArticles reads up to count ids from the section list, newest first.
func (c *Cache) SectionArticles(ctx context.Context, section string, count int64) ([]string, error) {
	if count <= 0 {
		count = int64(c.maxed)
	}
	ids, err := c.pool.LRange(ctx, SectionKey(section), -count, -1)
	if err != nil {
		return nil, fmt.Errorf("read section list %s: %w", section, err)
	}
	// Right side of the list is newest; reverse for newest-first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}
