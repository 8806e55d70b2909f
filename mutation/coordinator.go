// Package mutation runs writes against the API and keeps the query cache
// consistent with them, either after the fact or optimistically with
// rollback.
package mutation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-dashboard/metrics"
	"prism-dashboard/querycache"
)

// Action is one API write.
type Action struct {
	// Name identifies the action in logs and metrics, e.g. "update_task".
	Name string
	// Payload, when set, is validated before Call runs.
	Payload any
	Call    func(ctx context.Context) (any, error)
	// Invalidates is the set of key patterns to invalidate once the call
	// settles successfully (and, for optimistic actions, also on failure).
	Invalidates []querycache.Key
}

// Optimistic describes the local write applied before the call resolves.
type Optimistic struct {
	// Targets are key patterns; every cached key under them with data is
	// offered to Update.
	Targets []querycache.Key
	// Update returns the optimistic value for one key, or false to leave
	// the key alone.
	Update func(key querycache.Key, prev any) (any, bool)
	// Revert undoes this action's change on a value that has since been
	// written by someone else. Optional.
	Revert func(key querycache.Key, current any) any
	// Settled, when set, runs after the cache is reconciled and before the
	// Pending handle reports the outcome.
	Settled func(err error)
}

// Coordinator is the single entry point for writes.
type Coordinator struct {
	cache     *querycache.Cache
	validator *Validator
	logger    *log.Logger
}

func NewCoordinator(cache *querycache.Cache, logger *log.Logger) *Coordinator {
	if cache == nil {
		panic("mutation.NewCoordinator: cache is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{cache: cache, validator: NewValidator(), logger: logger}
}

// Validator exposes the payload validator for callers that check input early.
func (c *Coordinator) Validator() *Validator { return c.validator }

// Mutate runs the action. On success the affected keys are invalidated
// before Mutate returns; on failure the cache is left untouched and the
// error is returned to the caller.
func (c *Coordinator) Mutate(ctx context.Context, a Action) (any, error) {
	if err := c.validator.Validate(a.Payload); err != nil {
		metrics.MutationsTotal.WithLabelValues(a.Name, "invalid").Inc()
		return nil, err
	}
	res, err := a.Call(ctx)
	if err != nil {
		metrics.MutationsTotal.WithLabelValues(a.Name, "error").Inc()
		c.logger.WithError(err).WithField("action", a.Name).Warn("mutation failed")
		return nil, err
	}
	c.invalidate(a.Invalidates)
	metrics.MutationsTotal.WithLabelValues(a.Name, "success").Inc()
	return res, nil
}

// MutateOptimistic applies o to the cache synchronously, then runs the call
// in the background. The call does not observe ctx cancellation. On success
// the affected keys are invalidated; on failure the snapshot is rolled back
// and then the keys are invalidated.
func (c *Coordinator) MutateOptimistic(ctx context.Context, a Action, o Optimistic) *Pending {
	p := &Pending{done: make(chan struct{})}
	if err := c.validator.Validate(a.Payload); err != nil {
		metrics.MutationsTotal.WithLabelValues(a.Name, "invalid").Inc()
		if o.Settled != nil {
			o.Settled(err)
		}
		p.settle(nil, err)
		return p
	}

	snap := c.apply(a.Name, o)
	p.Snapshot = snap
	ctx = context.WithoutCancel(ctx)

	go func() {
		res, err := a.Call(ctx)
		entry := c.logger.WithFields(log.Fields{"action": a.Name, "mutation": snap.ID.String()})
		if err != nil {
			restored, reverted := snap.rollback(c.cache)
			entry.WithError(err).WithFields(log.Fields{"restored": restored, "reverted": reverted}).
				Warn("optimistic mutation failed; rolled back")
			metrics.MutationsTotal.WithLabelValues(a.Name, "rolled_back").Inc()
		} else {
			snap.release()
			metrics.MutationsTotal.WithLabelValues(a.Name, "success").Inc()
		}
		c.invalidate(a.Invalidates)
		if o.Settled != nil {
			o.Settled(err)
		}
		p.settle(res, err)
	}()
	return p
}

func (c *Coordinator) apply(name string, o Optimistic) *Snapshot {
	snap := &Snapshot{ID: uuid.New(), Action: name, revert: o.Revert}
	if o.Update == nil {
		return snap
	}
	seen := map[string]bool{}
	for _, pattern := range o.Targets {
		for _, key := range c.cache.Keys(pattern) {
			id := key.String()
			if seen[id] {
				continue
			}
			seen[id] = true
			if e, ok := c.applyKey(key, o.Update); ok {
				snap.entries = append(snap.entries, e)
			}
		}
	}
	c.logger.WithFields(log.Fields{"action": name, "mutation": snap.ID.String(), "keys": len(snap.entries)}).
		Debug("optimistic write applied")
	return snap
}

func (c *Coordinator) applyKey(key querycache.Key, update func(querycache.Key, any) (any, bool)) (snapshotEntry, bool) {
	for i := 0; i < revertAttempts; i++ {
		cur, ok := c.cache.Peek(key)
		if !ok || !cur.HasData {
			return snapshotEntry{}, false
		}
		next, changed := update(key, cur.Data)
		if !changed {
			return snapshotEntry{}, false
		}
		if v, ok := c.cache.WriteIf(key, cur.Version, func(any, bool) any { return next }); ok {
			return snapshotEntry{key: key, prev: cur.Data, hadData: true, version: v}, true
		}
	}
	c.logger.WithField("key", key.String()).Warn("optimistic write lost a race; key skipped")
	return snapshotEntry{}, false
}

func (c *Coordinator) invalidate(keys []querycache.Key) {
	for _, k := range keys {
		c.cache.Invalidate(k)
	}
}

// Pending is the handle of an optimistic mutation in flight.
type Pending struct {
	Snapshot *Snapshot

	done   chan struct{}
	result any
	err    error
}

func (p *Pending) settle(res any, err error) {
	p.result, p.err = res, err
	close(p.done)
}

// Done is closed once the call has settled and the cache has been reconciled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the mutation settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for mutation: %w", ctx.Err())
	case <-p.done:
		return p.result, p.err
	}
}

// Err returns the settled error, or nil while still pending.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
