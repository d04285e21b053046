package cachepool

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// localClient is the in-process fallback shard. Entries expire lazily on
// read, with a periodic sweep so abandoned keys do not accumulate. No
// per-entry timers.
type localClient struct {
	mu      sync.Mutex
	strings map[string]localEntry
	hashes  map[string]map[string]string
	lists   map[string][]string
	expiry  map[string]time.Time // hash/list expirations
	done    chan struct{}
	once    sync.Once
}

type localEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

const localSweepInterval = time.Minute

// NewLocalClient creates the in-process fallback shard and starts its sweep
// loop.
func NewLocalClient() Client {
	c := &localClient{
		strings: make(map[string]localEntry),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		expiry:  make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *localClient) sweep() {
	ticker := time.NewTicker(localSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.strings {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(c.strings, k)
				}
			}
			for k, exp := range c.expiry {
				if now.After(exp) {
					delete(c.hashes, k)
					delete(c.lists, k)
					delete(c.expiry, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// expired reports and removes a lazily-expired string entry. Caller holds mu.
func (c *localClient) expired(key string) bool {
	e, ok := c.strings[key]
	if !ok {
		return false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.strings, key)
		return true
	}
	return false
}

func (c *localClient) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expired(key) {
		return "", ErrNotFound
	}
	e, ok := c.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (c *localClient) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := localEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.strings[key] = e
	return nil
}

func (c *localClient) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for _, key := range keys {
		if _, ok := c.strings[key]; ok {
			delete(c.strings, key)
			n++
		}
		if _, ok := c.hashes[key]; ok {
			delete(c.hashes, key)
			delete(c.expiry, key)
			n++
		}
		if _, ok := c.lists[key]; ok {
			delete(c.lists, key)
			delete(c.expiry, key)
			n++
		}
	}
	return n, nil
}

func (c *localClient) Exists(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for _, key := range keys {
		if c.expired(key) {
			continue
		}
		if _, ok := c.strings[key]; ok {
			n++
			continue
		}
		if _, ok := c.hashes[key]; ok {
			n++
			continue
		}
		if _, ok := c.lists[key]; ok {
			n++
		}
	}
	return n, nil
}

func (c *localClient) TTL(_ context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expired(key) {
		return -2 * time.Second, nil
	}
	e, ok := c.strings[key]
	if !ok {
		return -2 * time.Second, nil
	}
	if e.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(e.expiresAt), nil
}

func (c *localClient) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expired(key)
	e := c.strings[key]
	n := parseInt(e.value) + 1
	e.value = formatInt(n)
	c.strings[key] = e
	return n, nil
}

func (c *localClient) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.strings[key]; ok {
		e.expiresAt = time.Now().Add(ttl)
		c.strings[key] = e
		return true, nil
	}
	if _, ok := c.hashes[key]; ok {
		c.expiry[key] = time.Now().Add(ttl)
		return true, nil
	}
	if _, ok := c.lists[key]; ok {
		c.expiry[key] = time.Now().Add(ttl)
		return true, nil
	}
	return false, nil
}

func (c *localClient) Keys(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	match := func(key string) {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for k := range c.strings {
		if !c.expired(k) {
			match(k)
		}
	}
	for k := range c.hashes {
		match(k)
	}
	for k := range c.lists {
		match(k)
	}
	return keys, nil
}

func (c *localClient) HGet(_ context.Context, key, field string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (c *localClient) HSet(_ context.Context, key, field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string)
		c.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (c *localClient) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.hashes[key]))
	for f, v := range c.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (c *localClient) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.hashes[key]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, f := range fields {
		if _, ok := h[f]; ok {
			delete(h, f)
			n++
		}
	}
	return n, nil
}

func (c *localClient) LPush(_ context.Context, key string, values ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	c.lists[key] = list
	return int64(len(list)), nil
}

func (c *localClient) RPush(_ context.Context, key string, values ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lists[key] = append(c.lists[key], values...)
	return int64(len(c.lists[key])), nil
}

func (c *localClient) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.lists[key]
	n := int64(len(list))
	start, stop = normalizeRange(start, stop, n)
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (c *localClient) LLen(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.lists[key])), nil
}

func (c *localClient) LTrim(_ context.Context, key string, start, stop int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.lists[key]
	n := int64(len(list))
	start, stop = normalizeRange(start, stop, n)
	if start > stop || start >= n {
		c.lists[key] = nil
		return nil
	}
	trimmed := make([]string, stop-start+1)
	copy(trimmed, list[start:stop+1])
	c.lists[key] = trimmed
	return nil
}

func (c *localClient) Ping(context.Context) error {
	return nil
}

func (c *localClient) DBSize(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.strings) + len(c.hashes) + len(c.lists)), nil
}

func (c *localClient) FlushDB(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strings = make(map[string]localEntry)
	c.hashes = make(map[string]map[string]string)
	c.lists = make(map[string][]string)
	c.expiry = make(map[string]time.Time)
	return nil
}

func (c *localClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// normalizeRange converts redis-style negative indexes and clamps stop.
func normalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
