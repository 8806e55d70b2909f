package mutation

import (
	"sync/atomic"

	"github.com/google/uuid"

	"prism-dashboard/querycache"
)

// Snapshot is created by one optimistic mutation and consumed exactly once
// when that mutation settles. It never outlives or leaks into another
// invocation.
type Snapshot struct {
	ID     uuid.UUID
	Action string

	entries  []snapshotEntry
	revert   func(key querycache.Key, current any) any
	consumed atomic.Bool
}

type snapshotEntry struct {
	key     querycache.Key
	prev    any
	hadData bool
	// version is the entry version right after the optimistic write.
	version uint64
}

// Keys returns the keys that were written optimistically.
func (s *Snapshot) Keys() []querycache.Key {
	out := make([]querycache.Key, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.key)
	}
	return out
}

// rollback undoes the optimistic write. A key nobody wrote since is restored
// exactly; a key that moved on gets the targeted revert instead, so a newer
// optimistic write is never clobbered. It reports how many keys were
// restored and reverted, and does nothing after the first call.
func (s *Snapshot) rollback(cache *querycache.Cache) (restored, reverted int) {
	if !s.consumed.CompareAndSwap(false, true) {
		return 0, 0
	}
	for _, e := range s.entries {
		if cache.Restore(e.key, e.version, e.prev, e.hadData) {
			restored++
			continue
		}
		if s.revert != nil && revertCurrent(cache, e.key, s.revert) {
			reverted++
		}
	}
	return restored, reverted
}

// release consumes the snapshot without touching the cache.
func (s *Snapshot) release() bool {
	return s.consumed.CompareAndSwap(false, true)
}

const revertAttempts = 3

func revertCurrent(cache *querycache.Cache, key querycache.Key, revert func(querycache.Key, any) any) bool {
	for i := 0; i < revertAttempts; i++ {
		cur, ok := cache.Peek(key)
		if !ok || !cur.HasData {
			return false
		}
		if _, ok := cache.WriteIf(key, cur.Version, func(prev any, _ bool) any {
			return revert(key, prev)
		}); ok {
			return true
		}
	}
	return false
}
