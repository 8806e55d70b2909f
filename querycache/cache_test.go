package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-dashboard/domain"
)

func newTestCache(cfg Config) *Cache {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	cfg.Logger = logger
	return New(cfg)
}

func countingFetcher(calls *int32, value any) Fetcher {
	return func(context.Context) (any, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

type statusErr struct{ code int }

func (e statusErr) Error() string { return "boom" }

func (e statusErr) StatusCode() int { return e.code }

func TestKeyMatching(t *testing.T) {
	tasks := NewKey("tasks")
	filtered := NewKey("tasks", "projectId=3")
	single := NewKey("task", 5)

	if !filtered.Matches(tasks) || !tasks.Matches(tasks) {
		t.Fatalf("tasks pattern should match the whole family")
	}
	if single.Matches(tasks) {
		t.Fatalf("task:5 must not match the tasks family")
	}
	if !single.Matches(Key{}) {
		t.Fatalf("empty pattern matches everything")
	}
	if NewKey("tasks", "").String() != "tasks" {
		t.Fatalf("empty parts should be dropped")
	}
}

func TestTaskFilterOf(t *testing.T) {
	want := domain.TaskFilter{ProjectID: 3, Status: domain.StatusTodo, Title: "a:b c"}
	got, ok := TaskFilterOf(TasksKey(want))
	if !ok || got != want {
		t.Fatalf("expected %+v, got %+v %v", want, got, ok)
	}
	if f, ok := TaskFilterOf(TasksKey(domain.TaskFilter{})); !ok || f != (domain.TaskFilter{}) {
		t.Fatalf("bare family should be the zero filter, got %+v %v", f, ok)
	}
	for _, k := range []Key{TaskKey(5), ProjectsKey(), NewKey("tasks", "projectId=x")} {
		if _, ok := TaskFilterOf(k); ok {
			t.Fatalf("%s should not yield a task filter", k)
		}
	}
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	c := newTestCache(Config{})
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		return []int{1, 2}, nil
	}

	key := NewKey("tasks")
	var wg sync.WaitGroup
	results := make([]any, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Read(context.Background(), key, fetch, Options{})
			if err != nil {
				t.Errorf("read %d: %v", i, err)
			}
			results[i] = v
		}(i)
		if i == 0 {
			<-started
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one fetch, got %d", n)
	}
	for i, v := range results {
		if got, ok := v.([]int); !ok || len(got) != 2 {
			t.Fatalf("reader %d got %v", i, v)
		}
	}
}

func TestFreshDataIsServedFromCache(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Minute})
	var calls int32
	key := NewKey("projects")

	for i := 0; i < 3; i++ {
		if _, err := c.Read(context.Background(), key, countingFetcher(&calls, "p"), Options{}); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch within stale time, got %d", calls)
	}

	e, ok := c.Peek(key)
	if !ok || e.Status != Success || e.Data != "p" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestZeroStaleTimeAlwaysRefetches(t *testing.T) {
	c := newTestCache(Config{})
	var calls int32
	key := NewKey("users")
	for i := 0; i < 2; i++ {
		if _, err := c.Read(context.Background(), key, countingFetcher(&calls, 1), Options{}); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected a fetch per read, got %d", calls)
	}
}

func TestFetchErrorIsStored(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Minute})
	key := NewKey("tasks")
	_, err := c.Read(context.Background(), key, func(context.Context) (any, error) {
		return nil, statusErr{code: 500}
	}, Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	e, _ := c.Peek(key)
	if e.Status != Error || e.Err == nil || e.Err.Message != "boom" || e.Err.Status != 500 {
		t.Fatalf("unexpected entry %+v", e)
	}

	var calls int32
	if _, err := c.Read(context.Background(), key, countingFetcher(&calls, "ok"), Options{}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 1 {
		t.Fatalf("error entries must refetch on read")
	}
	if e, _ := c.Peek(key); e.Status != Success || e.Err != nil {
		t.Fatalf("expected recovery, got %+v", e)
	}
}

func TestInvalidateMatchesFamily(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Hour})
	ctx := context.Background()
	var calls int32
	for _, k := range []Key{NewKey("tasks"), NewKey("tasks", "projectId=3"), NewKey("task", 1), NewKey("projects")} {
		if _, err := c.Read(ctx, k, countingFetcher(&calls, k.String()), Options{}); err != nil {
			t.Fatalf("read %s: %v", k, err)
		}
	}

	if n := c.Invalidate(NewKey("tasks")); n != 2 {
		t.Fatalf("expected 2 entries invalidated, got %d", n)
	}
	if e, _ := c.Peek(NewKey("task", 1)); e.Invalidated {
		t.Fatalf("task:1 is a different family")
	}

	calls = 0
	_, _ = c.Read(ctx, NewKey("tasks", "projectId=3"), countingFetcher(&calls, "x"), Options{})
	_, _ = c.Read(ctx, NewKey("projects"), countingFetcher(&calls, "x"), Options{})
	if calls != 1 {
		t.Fatalf("expected only the invalidated key to refetch, got %d", calls)
	}
}

func TestWriteKeepsStatusAndBumpsVersion(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Hour})
	key := NewKey("tasks")
	var calls int32
	_, _ = c.Read(context.Background(), key, countingFetcher(&calls, []string{"a"}), Options{})
	before, _ := c.Peek(key)

	v := c.Write(key, func(prev any, ok bool) any {
		if !ok {
			t.Fatalf("expected previous data")
		}
		return append(append([]string(nil), prev.([]string)...), "b")
	})
	after, _ := c.Peek(key)
	if after.Status != Success || v != after.Version || v == before.Version {
		t.Fatalf("unexpected entry after write %+v (version %d)", after, v)
	}
	if got := after.Data.([]string); len(got) != 2 {
		t.Fatalf("unexpected data %v", got)
	}

	if _, ok := c.WriteIf(key, before.Version, func(any, bool) any { return nil }); ok {
		t.Fatalf("WriteIf with an old version must fail")
	}
	next, ok := c.WriteIf(key, v, func(any, bool) any { return []string{} })
	if !ok || next <= v {
		t.Fatalf("WriteIf with the current version must succeed, got %d %v", next, ok)
	}
}

func TestWriteOnUnknownKeyLeavesStatusIdle(t *testing.T) {
	c := newTestCache(Config{})
	key := NewKey("user", 9)
	c.Write(key, func(prev any, ok bool) any { return "local" })
	e, ok := c.Peek(key)
	if !ok || e.Status != Idle || !e.HasData || e.Data != "local" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestRestoreBringsBackAbsence(t *testing.T) {
	c := newTestCache(Config{})
	key := NewKey("task", 1)
	v := c.Write(key, func(any, bool) any { return "optimistic" })
	if !c.Restore(key, v, nil, false) {
		t.Fatalf("restore should succeed at the current version")
	}
	if e, _ := c.Peek(key); e.HasData || e.Data != nil {
		t.Fatalf("expected no data, got %+v", e)
	}
}

func TestFetchSupersededByLocalWrite(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Hour})
	key := NewKey("tasks")
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan any)

	go func() {
		v, _ := c.Read(context.Background(), key, func(context.Context) (any, error) {
			close(started)
			<-release
			return "server", nil
		}, Options{})
		done <- v
	}()
	<-started
	c.Write(key, func(any, bool) any { return "optimistic" })
	close(release)

	if v := <-done; v != "optimistic" {
		t.Fatalf("reader should see the local write, got %v", v)
	}
	e, _ := c.Peek(key)
	if e.Data != "optimistic" || !e.Invalidated {
		t.Fatalf("expected optimistic data kept and marked stale, got %+v", e)
	}
}

func TestCancelledReaderDoesNotCancelFetch(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Hour})
	key := NewKey("projects")
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, err := c.Read(ctx, key, func(fctx context.Context) (any, error) {
			close(started)
			<-release
			finished <- fctx.Err()
			return "data", nil
		}, Options{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected cancelled read, got %v", err)
		}
	}()
	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-finished; err != nil {
		t.Fatalf("fetch context should not be cancelled, got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e, _ := c.Peek(key); e.Status == Success {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fetch result never landed in the cache")
}

func TestGetConvertsType(t *testing.T) {
	c := newTestCache(Config{})
	got, err := Get(context.Background(), c, NewKey("users"), func(context.Context) ([]string, error) {
		return []string{"ada"}, nil
	}, Options{})
	if err != nil || len(got) != 1 || got[0] != "ada" {
		t.Fatalf("unexpected result %v, %v", got, err)
	}

	c.Write(NewKey("user", 1), func(any, bool) any { return 42 })
	_, err = Get(context.Background(), c, NewKey("user", 1), func(context.Context) (string, error) {
		return "", errors.New("not reached")
	}, Options{StaleTime: time.Hour})
	if err == nil {
		t.Fatalf("expected fetch error for idle entry")
	}
}

func waitUpdate(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Updates():
	case <-time.After(time.Second):
		t.Fatalf("no update for %s", sub.Key())
	}
}

func TestSubscriptionRefetchesOnInvalidate(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Hour})
	var calls int32
	key := NewKey("tasks")
	sub := c.Subscribe(key, countingFetcher(&calls, "v"), Options{})
	defer sub.Close()

	deadline := time.Now().Add(time.Second)
	for sub.Entry().Status != Success {
		if time.Now().After(deadline) {
			t.Fatalf("initial fetch never completed")
		}
		waitUpdate(t, sub)
	}

	c.Invalidate(NewKey("tasks"))
	deadline = time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) < 2 || sub.Entry().Invalidated || sub.Entry().Fetching {
		if time.Now().After(deadline) {
			t.Fatalf("subscribed entry was not refetched, calls=%d", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUnsubscribedEntryRefetchesLazily(t *testing.T) {
	c := newTestCache(Config{StaleTime: time.Hour})
	var calls int32
	key := NewKey("projects")
	_, _ = c.Read(context.Background(), key, countingFetcher(&calls, "v"), Options{})
	c.Invalidate(key)
	time.Sleep(20 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("unsubscribed entry must not refetch eagerly, got %d", calls)
	}
	_, _ = c.Read(context.Background(), key, countingFetcher(&calls, "v"), Options{})
	if calls != 2 {
		t.Fatalf("expected lazy refetch on read, got %d", calls)
	}
}

func TestCollectDropsIdleEntries(t *testing.T) {
	c := newTestCache(Config{GCTime: time.Minute})
	c.Write(NewKey("users"), func(any, bool) any { return 1 })
	sub := c.Subscribe(NewKey("projects"), countingFetcher(new(int32), 2), Options{})

	if n := c.Collect(time.Now()); n != 0 {
		t.Fatalf("nothing is old enough yet, collected %d", n)
	}
	later := time.Now().Add(2 * time.Minute)
	deadline := time.Now().Add(time.Second)
	for sub.Entry().Status != Success || sub.Entry().Fetching {
		if time.Now().After(deadline) {
			t.Fatalf("subscription fetch never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := c.Collect(later); n != 1 {
		t.Fatalf("expected only the unsubscribed entry collected, got %d", n)
	}
	if _, ok := c.Peek(NewKey("projects")); !ok {
		t.Fatalf("subscribed entry must survive collection")
	}

	sub.Close()
	if n := c.Collect(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("closed subscription should release the entry, got %d", n)
	}
}

func TestClearEmptiesCache(t *testing.T) {
	c := newTestCache(Config{})
	c.Write(NewKey("tasks"), func(any, bool) any { return 1 })
	c.Write(NewKey("task", 1), func(any, bool) any { return 1 })
	c.Clear()
	if keys := c.Keys(Key{}); len(keys) != 0 {
		t.Fatalf("expected empty cache, got %v", keys)
	}
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	c := newTestCache(Config{GCTime: time.Nanosecond})
	c.Write(NewKey("tasks"), func(any, bool) any { return 1 })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(c.Keys(Key{})) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor never collected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("janitor did not stop")
	}
}
