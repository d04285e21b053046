package cachepool

import (
	"context"
	"time"
)

// Pool implements the same command surface as a single shard, so the cache
// facade and the queue treat the whole fleet as one client.
var _ Client = (*Pool)(nil)

func (p *Pool) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := p.keyed(key, func(c Client) error {
		v, err := c.Get(ctx, key)
		val = v
		return err
	})
	return val, err
}

func (p *Pool) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return p.keyed(key, func(c Client) error {
		return c.Set(ctx, key, value, ttl)
	})
}

func (p *Pool) Del(ctx context.Context, keys ...string) (int64, error) {
	var total int64
	for _, key := range keys {
		err := p.keyed(key, func(c Client) error {
			n, err := c.Del(ctx, key)
			total += n
			return err
		})
		if err != nil && err != ErrNotFound {
			return total, err
		}
	}
	return total, nil
}

func (p *Pool) Exists(ctx context.Context, keys ...string) (int64, error) {
	var total int64
	for _, key := range keys {
		err := p.keyed(key, func(c Client) error {
			n, err := c.Exists(ctx, key)
			total += n
			return err
		})
		if err != nil && err != ErrNotFound {
			return total, err
		}
	}
	return total, nil
}

func (p *Pool) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := p.keyed(key, func(c Client) error {
		v, err := c.TTL(ctx, key)
		ttl = v
		return err
	})
	return ttl, err
}

func (p *Pool) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := p.keyed(key, func(c Client) error {
		v, err := c.Incr(ctx, key)
		n = v
		return err
	})
	return n, err
}

func (p *Pool) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := p.keyed(key, func(c Client) error {
		v, err := c.Expire(ctx, key, ttl)
		ok = v
		return err
	})
	return ok, err
}

// Keys scatters to every eligible shard and merges the result.
func (p *Pool) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var merged []string
	p.scatter(func(c Client) error {
		keys, err := c.Keys(ctx, pattern)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				merged = append(merged, k)
			}
		}
		return nil
	})
	return merged, nil
}

func (p *Pool) HGet(ctx context.Context, key, field string) (string, error) {
	var val string
	err := p.keyed(key, func(c Client) error {
		v, err := c.HGet(ctx, key, field)
		val = v
		return err
	})
	return val, err
}

func (p *Pool) HSet(ctx context.Context, key, field, value string) error {
	return p.keyed(key, func(c Client) error {
		return c.HSet(ctx, key, field, value)
	})
}

func (p *Pool) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := p.keyed(key, func(c Client) error {
		v, err := c.HGetAll(ctx, key)
		out = v
		return err
	})
	return out, err
}

func (p *Pool) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	var n int64
	err := p.keyed(key, func(c Client) error {
		v, err := c.HDel(ctx, key, fields...)
		n = v
		return err
	})
	return n, err
}

func (p *Pool) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	var n int64
	err := p.keyed(key, func(c Client) error {
		v, err := c.LPush(ctx, key, values...)
		n = v
		return err
	})
	return n, err
}

func (p *Pool) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	var n int64
	err := p.keyed(key, func(c Client) error {
		v, err := c.RPush(ctx, key, values...)
		n = v
		return err
	})
	return n, err
}

func (p *Pool) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := p.keyed(key, func(c Client) error {
		v, err := c.LRange(ctx, key, start, stop)
		out = v
		return err
	})
	return out, err
}

func (p *Pool) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := p.keyed(key, func(c Client) error {
		v, err := c.LLen(ctx, key)
		n = v
		return err
	})
	return n, err
}

func (p *Pool) LTrim(ctx context.Context, key string, start, stop int64) error {
	return p.keyed(key, func(c Client) error {
		return c.LTrim(ctx, key, start, stop)
	})
}

// Ping is a keyless op; it lands on the least-loaded shard.
func (p *Pool) Ping(ctx context.Context) error {
	return p.keyless(func(c Client) error {
		return c.Ping(ctx)
	})
}

// DBSize scatters and sums across all eligible shards.
func (p *Pool) DBSize(ctx context.Context) (int64, error) {
	var total int64
	p.scatter(func(c Client) error {
		n, err := c.DBSize(ctx)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, nil
}

// FlushDB scatters to all eligible shards.
func (p *Pool) FlushDB(ctx context.Context) error {
	p.scatter(func(c Client) error {
		return c.FlushDB(ctx)
	})
	return nil
}
