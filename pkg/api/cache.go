package api

import (
	"context"
	"errors"
	"time"
)

var (
	errCacheDisabled = errors.New("cache disabled")
	errCacheStopped  = errors.New("cache stopped")
	errNoLoader      = errors.New("no loader")
)

// cacheRequest models a single lookup-or-populate attempt.  A struct
// keeps the channel signature compact so the goroutine that owns the
// cache handles a single message type.
type cacheRequest struct {
	ctx        context.Context
	key        string
	invalidate bool
	loader     func(context.Context) ([]byte, error)
	reply      chan cacheResponse
}

type cacheResponse struct {
	data []byte
	err  error
}

// cacheEntry records cached JSON along with its expiry timestamp.
// Stale entries are trimmed lazily on access so no timers are needed.
type cacheEntry struct {
	data    []byte
	expires time.Time
}

// ResponseCache keeps dataset listings and other query-heavy responses
// in memory so identical requests within the TTL skip the database.  A
// dedicated goroutine and channels coordinate the state without
// mutexes.  Uploads invalidate their keys explicitly rather than
// waiting for the TTL, so a freshly stored dataset appears in the
// listing immediately.
type ResponseCache struct {
	ttl      time.Duration
	requests chan cacheRequest
	quit     chan struct{}
	now      func() time.Time
}

// NewResponseCache starts the caching goroutine.  A non-positive TTL
// disables caching entirely; the nil receiver is handled everywhere so
// callers need no guards.  The clock is injectable for tests.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		return nil
	}
	cache := &ResponseCache{
		ttl:      ttl,
		requests: make(chan cacheRequest),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	go cache.loop()
	return cache
}

// Close stops the cache goroutine.  Safe to call multiple times.
func (c *ResponseCache) Close() {
	if c == nil {
		return
	}
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)
}

// Get returns cached bytes for the key or invokes loader to produce
// them.  The stored slice is copied before returning so callers can
// modify the result without poisoning future hits.
func (c *ResponseCache) Get(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return nil, errCacheDisabled
	}
	req := cacheRequest{
		ctx:    ctx,
		key:    key,
		loader: loader,
		reply:  make(chan cacheResponse, 1),
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case c.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case resp := <-req.reply:
		if resp.err != nil {
			return nil, resp.err
		}
		if resp.data == nil {
			return nil, nil
		}
		copyBuf := make([]byte, len(resp.data))
		copy(copyBuf, resp.data)
		return copyBuf, nil
	}
}

// Invalidate drops one key so the next Get repopulates it.
func (c *ResponseCache) Invalidate(key string) {
	if c == nil {
		return
	}
	req := cacheRequest{key: key, invalidate: true, reply: make(chan cacheResponse, 1)}
	select {
	case <-c.quit:
	case c.requests <- req:
		select {
		case <-c.quit:
		case <-req.reply:
		}
	}
}

// loop serialises all cache access inside a single goroutine so plain
// maps suffice.
func (c *ResponseCache) loop() {
	store := make(map[string]cacheEntry)
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.requests:
			if req.invalidate {
				delete(store, req.key)
				req.reply <- cacheResponse{}
				continue
			}
			now := c.now()
			if entry, ok := store[req.key]; ok && now.Before(entry.expires) {
				req.reply <- cacheResponse{data: entry.data}
				continue
			}
			if req.loader == nil {
				req.reply <- cacheResponse{err: errNoLoader}
				continue
			}
			data, err := req.loader(req.ctx)
			if err == nil && data != nil {
				buf := make([]byte, len(data))
				copy(buf, data)
				store[req.key] = cacheEntry{data: buf, expires: now.Add(c.ttl)}
			} else if err != nil {
				delete(store, req.key)
			}
			req.reply <- cacheResponse{data: data, err: err}
		}
	}
}
