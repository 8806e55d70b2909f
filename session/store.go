// Package session holds the single source of truth for who is logged in.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"prism-dashboard/domain"
	"prism-dashboard/storage"
)

// LoadState tracks whether persisted storage has been read yet.
type LoadState int

const (
	Loading LoadState = iota
	Resolved
)

func (s LoadState) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "loading"
}

var (
	errMissingToken    = errors.New("login response has no access token")
	errMissingIdentity = errors.New("login response has no user")
)

// Session is an immutable view of the store at one point in time.
type Session struct {
	Identity  *domain.Identity
	Token     string
	LoadState LoadState
}

// Authenticated holds iff both the identity and the credential are present.
func (s Session) Authenticated() bool {
	return s.Token != "" && s.Identity != nil
}

func (s Session) Loading() bool {
	return s.LoadState == Loading
}

// Store owns the Session. It is mutated only through Initialize, Login and Logout.
type Store struct {
	storage storage.Store
	logger  *log.Logger
	now     func() time.Time

	initOnce sync.Once

	mu        sync.RWMutex
	current   Session
	observers []func(Session)
}

// NewStore creates an empty store in the Loading state.
func NewStore(st storage.Store, logger *log.Logger) *Store {
	if st == nil {
		panic("session.NewStore: storage is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{storage: st, logger: logger, now: time.Now}
}

// Initialize reads the persisted credential and identity. It runs once per
// Store; later calls are no-ops. Unreadable, malformed or expired data is
// treated as an anonymous session and erased.
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		restored := s.restore(ctx)
		s.set(Session{Identity: restored.Identity, Token: restored.Token, LoadState: Resolved})
	})
}

func (s *Store) restore(ctx context.Context) Session {
	token, hasToken, err := s.storage.Get(ctx, storage.TokenSlot)
	if err != nil {
		s.logger.WithError(err).Warn("session: unable to read stored token")
		return Session{}
	}
	raw, hasIdentity, err := s.storage.Get(ctx, storage.IdentitySlot)
	if err != nil {
		s.logger.WithError(err).Warn("session: unable to read stored identity")
		return Session{}
	}
	if !hasToken || !hasIdentity || token == "" || raw == "" {
		return Session{}
	}

	var ident domain.Identity
	if err := sonic.UnmarshalString(raw, &ident); err != nil || !ident.Role.Valid() {
		if err == nil {
			err = fmt.Errorf("unknown role %q", ident.Role)
		}
		s.logger.WithError(err).Warn("session: discarding malformed stored identity")
		s.erase(ctx)
		return Session{}
	}
	if expired(token, s.now()) {
		s.logger.WithField("user", ident.ID).Info("session: stored token expired")
		s.erase(ctx)
		return Session{}
	}
	return Session{Identity: &ident, Token: token}
}

// expired reports whether token is a JWT whose exp claim is in the past.
// Opaque tokens are never considered expired here; the API will answer 401.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	return !claims.VerifyExpiresAt(now.Unix(), false)
}

func (s *Store) erase(ctx context.Context) {
	if err := s.storage.Delete(ctx, storage.TokenSlot, storage.IdentitySlot); err != nil {
		s.logger.WithError(err).Warn("session: unable to clear storage")
	}
}

// Login makes the session authenticated and persists both slots. On a
// persistence failure the in-memory session is left as it was.
func (s *Store) Login(ctx context.Context, resp domain.LoginResponse) error {
	if resp.AccessToken == "" {
		return errMissingToken
	}
	if resp.User.ID == 0 && resp.User.Email == "" {
		return errMissingIdentity
	}
	if !resp.User.Role.Valid() {
		return fmt.Errorf("login response has unknown role %q", resp.User.Role)
	}
	raw, err := sonic.MarshalString(resp.User)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := s.storage.Set(ctx, storage.TokenSlot, resp.AccessToken); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := s.storage.Set(ctx, storage.IdentitySlot, raw); err != nil {
		s.erase(ctx)
		return fmt.Errorf("persist identity: %w", err)
	}

	ident := resp.User
	s.set(Session{Identity: &ident, Token: resp.AccessToken, LoadState: Resolved})
	s.logger.WithFields(log.Fields{"user": ident.ID, "role": ident.Role}).Info("session: logged in")
	return nil
}

// Logout clears the session. Memory is cleared before storage so gate checks
// see the anonymous state immediately.
func (s *Store) Logout(ctx context.Context) error {
	s.set(Session{LoadState: Resolved})
	if err := s.storage.Delete(ctx, storage.TokenSlot, storage.IdentitySlot); err != nil {
		return fmt.Errorf("clear session storage: %w", err)
	}
	s.logger.Info("session: logged out")
	return nil
}

// Current returns a snapshot of the session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.current
	if cur.Identity != nil {
		ident := *cur.Identity
		cur.Identity = &ident
	}
	return cur
}

func (s *Store) IsAuthenticated() bool { return s.Current().Authenticated() }

func (s *Store) IsLoading() bool { return s.Current().Loading() }

func (s *Store) Token() string { return s.Current().Token }

func (s *Store) Identity() *domain.Identity { return s.Current().Identity }

// Subscribe registers fn to be called after every session change.
func (s *Store) Subscribe(fn func(Session)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Store) set(next Session) {
	s.mu.Lock()
	s.current = next
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(s.Current())
	}
}
