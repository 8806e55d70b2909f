package querycache

import (
	"context"
	"sync"
)

// Subscription marks a key as mounted by a view. While at least one
// subscription is open the entry is kept and refetched in the background on
// invalidation.
type Subscription struct {
	cache   *Cache
	key     Key
	fetcher Fetcher
	opts    Options
	updates chan struct{}

	closeOnce sync.Once
}

// Subscribe mounts key. A fetch starts in the background unless the entry
// is already fresh.
func (c *Cache) Subscribe(key Key, fetch Fetcher, opts Options) *Subscription {
	sub := &Subscription{
		cache:   c,
		key:     append(Key(nil), key...),
		fetcher: fetch,
		opts:    opts,
		updates: make(chan struct{}, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	if e.subs == nil {
		e.subs = make(map[*Subscription]struct{})
	}
	e.subs[sub] = struct{}{}
	e.fetcher, e.opts = fetch, opts
	e.touchedAt = c.now()
	if !e.fetching && !c.freshLocked(e, opts, c.now()) {
		c.backgroundLocked(e)
	}
	return sub
}

// Updates receives a value whenever the entry changes. Notifications are
// coalesced; a slow reader sees at least one after the latest change.
func (s *Subscription) Updates() <-chan struct{} { return s.updates }

func (s *Subscription) Key() Key { return s.key }

// Entry is the current state of the subscribed key.
func (s *Subscription) Entry() Entry {
	e, ok := s.cache.Peek(s.key)
	if !ok {
		return Entry{Key: s.key}
	}
	return e
}

// Read reads the subscribed key with the subscription's fetcher.
func (s *Subscription) Read(ctx context.Context) (any, error) {
	return s.cache.Read(ctx, s.key, s.fetcher, s.opts)
}

// Close unmounts the key. The entry becomes eligible for collection once
// its GCTime passes.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		c := s.cache
		c.mu.Lock()
		defer c.mu.Unlock()
		if e, ok := c.entries[s.key.String()]; ok {
			delete(e.subs, s)
			e.touchedAt = c.now()
		}
	})
}

func (s *Subscription) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (c *Cache) notifyLocked(e *entry) {
	for sub := range e.subs {
		sub.signal()
	}
}
