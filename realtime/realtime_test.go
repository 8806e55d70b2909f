package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-dashboard/domain"
	"prism-dashboard/querycache"
)

type recorder struct {
	connected chan struct{}
	events    chan Event
}

func newRecorder() *recorder {
	return &recorder{connected: make(chan struct{}, 8), events: make(chan Event, 16)}
}

func (r *recorder) OnConnect() { r.connected <- struct{}{} }

func (r *recorder) OnEvent(e Event) { r.events <- e }

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
		return Event{}
	}
}

func (r *recorder) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-r.connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("source never connected")
	}
}

func quietLogger() *log.Logger {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return logger
}

func TestTasksChangedInvalidatesThreeFamilies(t *testing.T) {
	logger := quietLogger()
	cache := querycache.New(querycache.Config{StaleTime: time.Hour, Logger: logger})
	ctx := context.Background()

	var calls int32
	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}
	refetched := []querycache.Key{
		querycache.TasksKey(domain.TaskFilter{}),
		querycache.TasksKey(domain.TaskFilter{ProjectID: 1}),
		querycache.TaskKey(4),
		querycache.ProjectsKey(),
	}
	untouched := []querycache.Key{
		querycache.UsersKey(domain.UserFilter{}),
		querycache.ProjectKey(2),
	}
	for _, k := range append(append([]querycache.Key(nil), refetched...), untouched...) {
		if _, err := cache.Read(ctx, k, fetch, querycache.Options{}); err != nil {
			t.Fatalf("read %s: %v", k, err)
		}
	}

	l := NewListener(nil, cache, logger)
	if n := l.Handle(Event{Name: EventTasksChanged}); n != len(refetched) {
		t.Fatalf("expected %d invalidated entries, got %d", len(refetched), n)
	}

	atomic.StoreInt32(&calls, 0)
	for _, k := range refetched {
		_, _ = cache.Read(ctx, k, fetch, querycache.Options{})
	}
	if n := atomic.LoadInt32(&calls); n != int32(len(refetched)) {
		t.Fatalf("expected every invalidated family to refetch, got %d fetches", n)
	}
	atomic.StoreInt32(&calls, 0)
	for _, k := range untouched {
		_, _ = cache.Read(ctx, k, fetch, querycache.Options{})
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("unrelated families must stay cached, got %d fetches", n)
	}
}

type recordingInvalidator struct {
	mu       sync.Mutex
	patterns []string
}

func (r *recordingInvalidator) Invalidate(p querycache.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, p.String())
	return 1
}

func (r *recordingInvalidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.patterns...)
}

func TestHandleRoutes(t *testing.T) {
	inv := &recordingInvalidator{}
	l := NewListener(nil, inv, quietLogger())

	l.Handle(Event{Name: EventUsersChanged})
	l.Handle(Event{Name: "something:else"})
	l.Handle(Event{Name: EventProjectsChanged})

	want := []string{"users", "user", "projects", "project", "tasks"}
	got := inv.seen()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// flakySource fails its first attempts, then connects and delivers one event.
type flakySource struct {
	failures int32
	attempts int32
}

func (s *flakySource) Name() string { return "flaky" }

func (s *flakySource) Stream(ctx context.Context, h Handler) error {
	n := atomic.AddInt32(&s.attempts, 1)
	if n <= s.failures {
		return fmt.Errorf("attempt %d refused", n)
	}
	h.OnConnect()
	h.OnEvent(Event{Name: EventTasksChanged})
	<-ctx.Done()
	return ctx.Err()
}

func TestListenerReconnectsAndStopsOnCancel(t *testing.T) {
	inv := &recordingInvalidator{}
	src := &flakySource{failures: 2}
	l := NewListener(src, inv, quietLogger())
	l.minBackoff = time.Millisecond
	l.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(inv.seen()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("listener never delivered the event, attempts=%d", atomic.LoadInt32(&src.attempts))
		}
		time.Sleep(2 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&src.attempts); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestListenerBackoffIsCapped(t *testing.T) {
	src := &flakySource{failures: 100}
	l := NewListener(src, &recordingInvalidator{}, quietLogger())
	l.minBackoff = time.Millisecond
	l.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	l.Run(ctx)
	if l.backoff != l.maxBackoff {
		t.Fatalf("expected backoff capped at %s, got %s", l.maxBackoff, l.backoff)
	}
}

func TestParseFrames(t *testing.T) {
	ev, ok := parseSocketIOEvent(`42["tasks:changed",{"id":3}]`)
	if !ok || ev.Name != EventTasksChanged || string(ev.Data) != `{"id":3}` {
		t.Fatalf("unexpected socket.io event %+v %v", ev, ok)
	}
	if ev, ok := parseSocketIOEvent(`42/admin,7["users:changed"]`); !ok || ev.Name != EventUsersChanged {
		t.Fatalf("namespaced packet not parsed: %+v", ev)
	}
	if _, ok := parseSocketIOEvent(`43[]`); ok {
		t.Fatalf("ack packet must not parse as event")
	}
	if ev, ok := parseEnvelope([]byte(`{"event":"projects:changed","data":null}`)); !ok || ev.Name != EventProjectsChanged {
		t.Fatalf("unexpected envelope %+v", ev)
	}
	if ev, ok := parseEnvelope([]byte(`"tasks:changed"`)); !ok || ev.Name != EventTasksChanged {
		t.Fatalf("bare string not parsed: %+v", ev)
	}
	if _, ok := parseEnvelope([]byte(`{"nothing":1}`)); ok {
		t.Fatalf("object without event must be rejected")
	}
}

func TestWebSocketSourceSpeaksSocketIO(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)
	replies := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"abc","pingInterval":25000}`))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		replies <- string(msg)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("2"))
		_, msg, err = conn.ReadMessage()
		if err != nil {
			return
		}
		replies <- string(msg)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["tasks:changed",{}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"users:changed"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	src := &WebSocketSource{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "tok"}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- src.Stream(ctx, rec) }()

	rec.waitConnected(t)
	if auth := <-gotAuth; auth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got := rec.next(t); got.Name != EventTasksChanged {
		t.Fatalf("unexpected event %+v", got)
	}
	if got := rec.next(t); got.Name != EventUsersChanged {
		t.Fatalf("unexpected event %+v", got)
	}
	if open, pong := <-replies, <-replies; open != "40" || pong != "3" {
		t.Fatalf("unexpected handshake replies %q %q", open, pong)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Stream did not return after cancel")
	}
}

func TestSocketIOURL(t *testing.T) {
	got, err := SocketIOURL("https://api.example.com/")
	if err != nil {
		t.Fatalf("SocketIOURL: %v", err)
	}
	if got != "wss://api.example.com/socket.io/?EIO=4&transport=websocket" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestSSESourceReadsEvents(t *testing.T) {
	e := echo.New()
	e.GET("/events", func(c echo.Context) error {
		if c.Request().Header.Get(echo.HeaderAuthorization) != "Bearer tok" {
			return c.NoContent(http.StatusUnauthorized)
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().WriteHeader(http.StatusOK)
		_, _ = c.Response().Write([]byte(": hello\n\nevent: tasks:changed\ndata: {}\n\ndata: {\"event\":\"users:changed\"}\n\n"))
		c.Response().Flush()
		<-c.Request().Context().Done()
		return nil
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	src := &SSESource{URL: srv.URL + "/events", Token: "tok"}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Stream(ctx, rec) }()

	rec.waitConnected(t)
	if got := rec.next(t); got.Name != EventTasksChanged {
		t.Fatalf("unexpected event %+v", got)
	}
	if got := rec.next(t); got.Name != EventUsersChanged {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestSSESourceRejectsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := (&SSESource{URL: srv.URL}).Stream(context.Background(), newRecorder())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestRedisSourceReceivesPublishedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	src := &RedisSource{Client: rc, Channel: "changes"}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- src.Stream(ctx, rec) }()
	rec.waitConnected(t)

	if err := Publish(context.Background(), rc, "changes", EventTasksChanged); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := rc.Publish(context.Background(), "changes", "users:changed").Err(); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
	if got := rec.next(t); got.Name != EventTasksChanged {
		t.Fatalf("unexpected event %+v", got)
	}
	if got := rec.next(t); got.Name != EventUsersChanged {
		t.Fatalf("unexpected event %+v", got)
	}

	cancel()
	select {
	case <-errc:
	case <-time.After(time.Second):
		t.Fatalf("Stream did not exit")
	}
}
