package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-dashboard/domain"
	"prism-dashboard/storage"
)

type fakeStorage struct {
	mu      sync.Mutex
	slots   map[string]string
	getErr  error
	setFn   func(slot, value string) error
	deletes int
}

func newFakeStorage(slots map[string]string) *fakeStorage {
	if slots == nil {
		slots = map[string]string{}
	}
	return &fakeStorage{slots: slots}
}

func (f *fakeStorage) Get(_ context.Context, slot string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.slots[slot]
	return v, ok, nil
}

func (f *fakeStorage) Set(_ context.Context, slot, value string) error {
	if f.setFn != nil {
		if err := f.setFn(slot, value); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slot] = value
	return nil
}

func (f *fakeStorage) Delete(_ context.Context, slots ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, s := range slots {
		delete(f.slots, s)
	}
	return nil
}

func (f *fakeStorage) Close() error { return nil }

func quietLogger() (*log.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return logger, hook
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

const adminJSON = `{"id":1,"name":"Ada","email":"ada@example.com","role":"admin"}`

func TestStoreStartsLoading(t *testing.T) {
	logger, _ := quietLogger()
	s := NewStore(newFakeStorage(nil), logger)
	if !s.IsLoading() {
		t.Fatalf("expected loading before Initialize")
	}
	if s.IsAuthenticated() {
		t.Fatalf("expected anonymous before Initialize")
	}
}

func TestInitializeRestoresPersistedSession(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(map[string]string{
		storage.TokenSlot:    "opaque-token",
		storage.IdentitySlot: adminJSON,
	})
	s := NewStore(st, logger)
	s.Initialize(context.Background())

	if s.IsLoading() {
		t.Fatalf("expected resolved after Initialize")
	}
	if !s.IsAuthenticated() {
		t.Fatalf("expected authenticated session")
	}
	if got := s.Identity(); got == nil || got.Role != domain.RoleAdmin || got.Email != "ada@example.com" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if s.Token() != "opaque-token" {
		t.Fatalf("unexpected token %q", s.Token())
	}
}

func TestInitializeDiscardsMalformedIdentity(t *testing.T) {
	logger, hook := quietLogger()
	st := newFakeStorage(map[string]string{
		storage.TokenSlot:    "tok",
		storage.IdentitySlot: "{not json",
	})
	s := NewStore(st, logger)
	s.Initialize(context.Background())

	if s.IsAuthenticated() || s.IsLoading() {
		t.Fatalf("expected resolved anonymous session, got %+v", s.Current())
	}
	if len(st.slots) != 0 {
		t.Fatalf("expected storage cleared, got %v", st.slots)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != log.WarnLevel {
		t.Fatalf("expected a warning to be logged")
	}
}

func TestInitializeDiscardsUnknownRole(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(map[string]string{
		storage.TokenSlot:    "tok",
		storage.IdentitySlot: `{"id":1,"name":"x","email":"x@y","role":"root"}`,
	})
	s := NewStore(st, logger)
	s.Initialize(context.Background())
	if s.IsAuthenticated() {
		t.Fatalf("identity with unknown role must not authenticate")
	}
}

func TestInitializeTreatsPartialStorageAsAnonymous(t *testing.T) {
	logger, _ := quietLogger()
	s := NewStore(newFakeStorage(map[string]string{storage.TokenSlot: "tok"}), logger)
	s.Initialize(context.Background())
	if s.IsAuthenticated() {
		t.Fatalf("token without identity must not authenticate")
	}
}

func TestInitializeTreatsReadFailureAsAnonymous(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(nil)
	st.getErr = errors.New("disk gone")
	s := NewStore(st, logger)
	s.Initialize(context.Background())
	if s.IsAuthenticated() || s.IsLoading() {
		t.Fatalf("expected resolved anonymous session, got %+v", s.Current())
	}
}

func TestInitializeDropsExpiredJWT(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(map[string]string{
		storage.TokenSlot:    signedToken(t, time.Now().Add(-time.Hour)),
		storage.IdentitySlot: adminJSON,
	})
	s := NewStore(st, logger)
	s.Initialize(context.Background())
	if s.IsAuthenticated() {
		t.Fatalf("expired token must not authenticate")
	}
	if _, ok := st.slots[storage.TokenSlot]; ok {
		t.Fatalf("expired token should be erased")
	}
}

func TestInitializeKeepsValidJWT(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(map[string]string{
		storage.TokenSlot:    signedToken(t, time.Now().Add(time.Hour)),
		storage.IdentitySlot: adminJSON,
	})
	s := NewStore(st, logger)
	s.Initialize(context.Background())
	if !s.IsAuthenticated() {
		t.Fatalf("unexpired token should authenticate")
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(nil)
	s := NewStore(st, logger)
	s.Initialize(context.Background())

	st.slots[storage.TokenSlot] = "tok"
	st.slots[storage.IdentitySlot] = adminJSON
	s.Initialize(context.Background())
	if s.IsAuthenticated() {
		t.Fatalf("second Initialize must not re-read storage")
	}
}

func TestLoginPersistsAndLogoutClears(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(nil)
	s := NewStore(st, logger)
	s.Initialize(context.Background())

	resp := domain.LoginResponse{
		AccessToken: "tok",
		User:        domain.User{ID: 7, Name: "Dev", Email: "dev@example.com", Role: domain.RoleDeveloper},
	}
	if err := s.Login(context.Background(), resp); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !s.IsAuthenticated() {
		t.Fatalf("expected authenticated after login")
	}
	if st.slots[storage.TokenSlot] != "tok" || st.slots[storage.IdentitySlot] == "" {
		t.Fatalf("login did not persist both slots: %v", st.slots)
	}

	restored := NewStore(st, logger)
	restored.Initialize(context.Background())
	if id := restored.Identity(); id == nil || id.ID != 7 || id.Role != domain.RoleDeveloper {
		t.Fatalf("unexpected restored identity %+v", id)
	}

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if s.IsAuthenticated() || s.Token() != "" || s.Identity() != nil {
		t.Fatalf("expected empty session after logout, got %+v", s.Current())
	}
	if len(st.slots) != 0 {
		t.Fatalf("expected storage cleared, got %v", st.slots)
	}
}

func TestLoginRejectsIncompleteResponse(t *testing.T) {
	logger, _ := quietLogger()
	s := NewStore(newFakeStorage(nil), logger)
	s.Initialize(context.Background())

	cases := map[string]domain.LoginResponse{
		"no token": {User: domain.User{ID: 1, Role: domain.RoleAdmin}},
		"no user":  {AccessToken: "tok"},
		"bad role": {AccessToken: "tok", User: domain.User{ID: 1, Role: "root"}},
	}
	for name, resp := range cases {
		if err := s.Login(context.Background(), resp); err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if s.IsAuthenticated() {
			t.Fatalf("%s: session must stay anonymous", name)
		}
	}
}

func TestLoginPersistenceFailureLeavesSessionUnchanged(t *testing.T) {
	logger, _ := quietLogger()
	st := newFakeStorage(nil)
	st.setFn = func(slot, _ string) error {
		if slot == storage.IdentitySlot {
			return errors.New("quota exceeded")
		}
		return nil
	}
	s := NewStore(st, logger)
	s.Initialize(context.Background())

	err := s.Login(context.Background(), domain.LoginResponse{
		AccessToken: "tok",
		User:        domain.User{ID: 1, Role: domain.RoleAdmin},
	})
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	if s.IsAuthenticated() {
		t.Fatalf("session must stay anonymous")
	}
	if _, ok := st.slots[storage.TokenSlot]; ok {
		t.Fatalf("partial write should be erased")
	}
}

func TestSubscribeObservesLifecycle(t *testing.T) {
	logger, _ := quietLogger()
	s := NewStore(newFakeStorage(nil), logger)

	var seen []bool
	s.Subscribe(func(cur Session) { seen = append(seen, cur.Authenticated()) })

	s.Initialize(context.Background())
	_ = s.Login(context.Background(), domain.LoginResponse{
		AccessToken: "tok",
		User:        domain.User{ID: 1, Role: domain.RoleManager},
	})
	_ = s.Logout(context.Background())

	want := []bool{false, true, false}
	if len(seen) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("notification %d: expected %v, got %v", i, want[i], seen[i])
		}
	}
}

func TestObserverMaySubscribeDuringNotification(t *testing.T) {
	logger, _ := quietLogger()
	s := NewStore(newFakeStorage(nil), logger)

	late := 0
	added := false
	s.Subscribe(func(Session) {
		if !added {
			added = true
			s.Subscribe(func(Session) { late++ })
		}
	})

	s.Initialize(context.Background())
	if late != 0 {
		t.Fatalf("observer added during a notification must wait for the next change, got %d", late)
	}
	_ = s.Logout(context.Background())
	if late != 1 {
		t.Fatalf("expected the late observer to see logout, got %d", late)
	}
}

func TestStoreWithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger, _ := quietLogger()
	st := storage.NewRedisStore(rdb, "dash")
	s := NewStore(st, logger)
	s.Initialize(context.Background())

	if err := s.Login(context.Background(), domain.LoginResponse{
		AccessToken: "tok",
		User:        domain.User{ID: 3, Email: "m@example.com", Role: domain.RoleManager},
	}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got, _ := mr.Get("dash:authToken"); got != "tok" {
		t.Fatalf("expected token in redis, got %q", got)
	}

	next := NewStore(st, logger)
	next.Initialize(context.Background())
	if !next.IsAuthenticated() {
		t.Fatalf("expected session restored from redis")
	}
}
