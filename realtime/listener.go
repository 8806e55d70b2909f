// Package realtime keeps the query cache in step with server-side changes by
// invalidating the families named by push notifications.
package realtime

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-dashboard/metrics"
	"prism-dashboard/querycache"
)

const (
	EventTasksChanged    = "tasks:changed"
	EventProjectsChanged = "projects:changed"
	EventUsersChanged    = "users:changed"
)

// DefaultRoutes maps event names to the key families they invalidate.
var DefaultRoutes = map[string][]querycache.Key{
	EventTasksChanged: {
		querycache.Family(querycache.FamilyTasks),
		querycache.Family(querycache.FamilyTask),
		querycache.Family(querycache.FamilyProjects),
	},
	EventProjectsChanged: {
		querycache.Family(querycache.FamilyProjects),
		querycache.Family(querycache.FamilyProject),
		querycache.Family(querycache.FamilyTasks),
	},
	EventUsersChanged: {
		querycache.Family(querycache.FamilyUsers),
		querycache.Family(querycache.FamilyUser),
	},
}

// Event is one push notification.
type Event struct {
	Name string
	Data []byte
}

// Handler receives what a Source reads off its connection.
type Handler interface {
	// OnConnect is called once the connection is established.
	OnConnect()
	OnEvent(Event)
}

// Source is a realtime transport. Stream connects, delivers events until the
// connection drops, and returns why. It must return promptly once ctx is done.
type Source interface {
	Name() string
	Stream(ctx context.Context, h Handler) error
}

// Invalidator is the part of the query cache the listener needs.
type Invalidator interface {
	Invalidate(pattern querycache.Key) int
}

const (
	minBackoff = time.Second
	maxBackoff = 5 * time.Second
)

// Listener feeds events from a Source into cache invalidations and
// reconnects on its own.
type Listener struct {
	source Source
	cache  Invalidator
	routes map[string][]querycache.Key
	logger *log.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	backoff time.Duration
}

func NewListener(source Source, cache Invalidator, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Listener{
		source:     source,
		cache:      cache,
		routes:     DefaultRoutes,
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Run keeps the source connected until ctx is cancelled. Connection failures
// are retried with exponential backoff; Run only returns when ctx is done.
func (l *Listener) Run(ctx context.Context) {
	l.backoff = l.minBackoff
	entry := l.logger.WithField("source", l.source.Name())
	for {
		err := l.source.Stream(ctx, l)
		if ctx.Err() != nil {
			entry.Debug("realtime: listener stopped")
			return
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		entry.WithError(err).WithField("retry_in", l.backoff.String()).Warn("realtime: disconnected, reconnecting")
		metrics.RealtimeReconnectsTotal.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
		l.backoff = min(l.backoff*2, l.maxBackoff)
	}
}

// OnConnect resets the backoff.
func (l *Listener) OnConnect() {
	l.backoff = l.minBackoff
	l.logger.WithField("source", l.source.Name()).Info("realtime: connected")
}

// OnEvent invalidates the families routed from ev.Name.
func (l *Listener) OnEvent(ev Event) {
	l.Handle(ev)
}

// Handle applies one event and returns the number of entries invalidated.
// Unknown events are ignored.
func (l *Listener) Handle(ev Event) int {
	keys, ok := l.routes[ev.Name]
	if !ok {
		l.logger.WithField("event", ev.Name).Debug("realtime: ignoring event")
		return 0
	}
	metrics.RealtimeEventsTotal.WithLabelValues(ev.Name).Inc()
	n := 0
	for _, k := range keys {
		n += l.cache.Invalidate(k)
	}
	l.logger.WithFields(log.Fields{"event": ev.Name, "entries": n}).Debug("realtime: invalidated")
	return n
}
