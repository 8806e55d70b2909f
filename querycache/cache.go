// Package querycache is a keyed cache of server-fetched data with in-flight
// de-duplication, invalidation and synchronous local writes.
//
// The only ways to change an entry are Write, WriteIf, Restore and the
// resolution of a fetch. Everything else reads.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"prism-dashboard/metrics"
)

// Status is the fetch state of an entry.
type Status int

const (
	Idle Status = iota
	Loading
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// ErrorInfo is the failure detail stored on an entry in the Error state.
type ErrorInfo struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func (e *ErrorInfo) Error() string { return e.Message }

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

func errorInfo(err error) *ErrorInfo {
	info := &ErrorInfo{Message: err.Error()}
	var sc statusCoder
	if errors.As(err, &sc) {
		info.Status = sc.StatusCode()
	}
	return info
}

// Fetcher loads the value of one key from the server.
type Fetcher func(ctx context.Context) (any, error)

// Options tune a single read.
type Options struct {
	// StaleTime is how long successful data is served without refetching.
	// Zero uses the cache default.
	StaleTime time.Duration
}

// Config holds cache-wide defaults.
type Config struct {
	StaleTime    time.Duration
	GCTime       time.Duration
	FetchTimeout time.Duration
	Logger       *log.Logger
}

const (
	defaultGCTime       = 5 * time.Minute
	defaultFetchTimeout = 30 * time.Second
)

// Entry is a point-in-time copy of a cache entry.
type Entry struct {
	Key         Key
	Data        any
	HasData     bool
	Status      Status
	Err         *ErrorInfo
	LastUpdated time.Time
	Invalidated bool
	Fetching    bool
	Version     uint64
	Subscribers int
}

type entry struct {
	key       Key
	data      any
	hasData   bool
	status    Status
	err       *ErrorInfo
	updatedAt time.Time
	touchedAt time.Time

	invalidated bool
	// invalidGen and writeSeq let a resolving fetch notice that the entry
	// was invalidated or locally written while it was in flight.
	invalidGen uint64
	writeSeq   uint64
	version    uint64

	fetching     bool
	refetchAfter bool

	subs    map[*Subscription]struct{}
	fetcher Fetcher
	opts    Options
}

// Cache is safe for concurrent use. Create one per authenticated scope and
// pass it explicitly to whoever reads or writes.
type Cache struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time
	flight singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.GCTime <= 0 {
		cfg.GCTime = defaultGCTime
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func (c *Cache) entryLocked(key Key) *entry {
	id := key.String()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), key...), touchedAt: c.now()}
		c.entries[id] = e
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return e
}

func (c *Cache) freshLocked(e *entry, opts Options, now time.Time) bool {
	if e.status != Success || !e.hasData || e.invalidated {
		return false
	}
	stale := opts.StaleTime
	if stale <= 0 {
		stale = c.cfg.StaleTime
	}
	return stale > 0 && now.Sub(e.updatedAt) < stale
}

// Read returns the cached value for key when it is fresh, otherwise it
// fetches. Concurrent reads of the same key share one fetch. The shared
// fetch does not observe the caller's cancellation; a cancelled caller
// stops waiting but the fetch still lands in the cache.
func (c *Cache) Read(ctx context.Context, key Key, fetch Fetcher, opts Options) (any, error) {
	now := c.now()
	c.mu.Lock()
	e := c.entryLocked(key)
	e.touchedAt = now
	if c.freshLocked(e, opts, now) {
		data := e.data
		c.mu.Unlock()
		metrics.CacheReadsTotal.WithLabelValues("hit").Inc()
		return data, nil
	}
	c.mu.Unlock()
	metrics.CacheReadsTotal.WithLabelValues("miss").Inc()

	ch := c.flight.DoChan(key.String(), func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key, fetch)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// Get is Read with the value converted to T.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	v, err := c.Read(ctx, key, func(ctx context.Context) (any, error) { return fetch(ctx) }, opts)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T, not %T", key, v, zero)
	}
	return t, nil
}

// fetch runs inside the singleflight call for key.
func (c *Cache) fetch(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetching = true
	if !e.hasData {
		e.status = Loading
	}
	startWrite, startInvalid := e.writeSeq, e.invalidGen
	c.notifyLocked(e)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	data, err := fetch(ctx)
	cancel()

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[key.String()]; !ok || cur != e {
		// Cleared while in flight.
		return data, err
	}
	// Release the flight now so that anything observing fetching == false
	// starts a new fetch instead of joining this one.
	c.flight.Forget(key.String())
	e.fetching = false
	e.touchedAt = now
	family := key.Family()

	switch {
	case err != nil:
		e.status = Error
		e.err = errorInfo(err)
		metrics.CacheFetchesTotal.WithLabelValues(family, "error").Inc()
		c.logger.WithError(err).WithField("key", key.String()).Debug("querycache: fetch failed")
	case e.writeSeq != startWrite:
		// A local write landed after this fetch started; keep it and stay stale.
		e.invalidated = true
		metrics.CacheFetchesTotal.WithLabelValues(family, "discarded").Inc()
		c.logger.WithField("key", key.String()).Debug("querycache: fetch result superseded by local write")
		c.notifyLocked(e)
		return e.data, nil
	default:
		e.data, e.hasData = data, true
		e.status = Success
		e.err = nil
		e.updatedAt = now
		e.version++
		e.invalidated = e.invalidGen != startInvalid
		metrics.CacheFetchesTotal.WithLabelValues(family, "success").Inc()
	}

	if err == nil && e.invalidated && len(e.subs) > 0 {
		e.refetchAfter = true
	}
	if e.refetchAfter {
		e.refetchAfter = false
		c.backgroundLocked(e)
	}
	c.notifyLocked(e)
	return data, err
}

func (c *Cache) backgroundLocked(e *entry) {
	key, fetch := e.key, e.fetcher
	if fetch == nil {
		return
	}
	c.flight.DoChan(key.String(), func() (any, error) {
		return c.fetch(context.Background(), key, fetch)
	})
}

// Invalidate marks every entry under pattern stale and returns how many it
// touched. Entries with subscribers refetch in the background; the rest
// refetch on their next read.
func (c *Cache) Invalidate(pattern Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if !e.key.Matches(pattern) {
			continue
		}
		n++
		e.invalidated = true
		e.invalidGen++
		metrics.CacheInvalidationsTotal.WithLabelValues(e.key.Family()).Inc()
		if len(e.subs) > 0 {
			if e.fetching {
				e.refetchAfter = true
			} else {
				c.backgroundLocked(e)
			}
		}
		c.notifyLocked(e)
	}
	if n > 0 {
		c.logger.WithFields(log.Fields{"pattern": pattern.String(), "entries": n}).Debug("querycache: invalidated")
	}
	return n
}

// Write replaces the data of key with updater(previous) without touching
// its status, and returns the entry's new version.
func (c *Cache) Write(key Key, updater func(prev any, ok bool) any) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	c.writeLocked(e, updater(e.data, e.hasData), true)
	return e.version
}

// WriteIf is Write guarded by the entry version. It does nothing and
// returns false when the entry changed since version was observed.
func (c *Cache) WriteIf(key Key, version uint64, updater func(prev any, ok bool) any) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.version != version {
		return 0, false
	}
	c.writeLocked(e, updater(e.data, e.hasData), true)
	return e.version, true
}

// Restore puts back data previously read with Peek, including its absence,
// provided the entry is still at version.
func (c *Cache) Restore(key Key, version uint64, data any, hasData bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.version != version {
		return false
	}
	c.writeLocked(e, data, hasData)
	return true
}

func (c *Cache) writeLocked(e *entry, data any, hasData bool) {
	if hasData {
		e.data = data
	} else {
		e.data = nil
	}
	e.hasData = hasData
	e.version++
	e.writeSeq++
	e.touchedAt = c.now()
	c.notifyLocked(e)
}

// Peek returns a copy of the entry for key without fetching.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Keys lists the keys under pattern.
func (c *Cache) Keys(pattern Key) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Key
	for _, e := range c.entries {
		if e.key.Matches(pattern) {
			out = append(out, append(Key(nil), e.key...))
		}
	}
	return out
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:         append(Key(nil), e.key...),
		Data:        e.data,
		HasData:     e.hasData,
		Status:      e.status,
		Err:         e.err,
		LastUpdated: e.updatedAt,
		Invalidated: e.invalidated,
		Fetching:    e.fetching,
		Version:     e.version,
		Subscribers: len(e.subs),
	}
}

// Collect drops entries that have no subscribers, are not fetching, and
// have not been touched for GCTime. It returns the number removed.
func (c *Cache) Collect(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if len(e.subs) > 0 || e.fetching {
			continue
		}
		if now.Sub(e.touchedAt) < c.cfg.GCTime {
			continue
		}
		delete(c.entries, id)
		n++
	}
	if n > 0 {
		metrics.CacheEntries.Set(float64(len(c.entries)))
		c.logger.WithField("entries", n).Debug("querycache: collected idle entries")
	}
	return n
}

// Clear drops every entry. Fetches still in flight resolve into nothing.
// Open subscriptions are signalled and detached from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		c.flight.Forget(id)
		for sub := range e.subs {
			sub.signal()
		}
	}
	c.entries = make(map[string]*entry)
	metrics.CacheEntries.Set(0)
}

// RunJanitor calls Collect every interval until ctx is done.
func (c *Cache) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(c.now())
		}
	}
}
