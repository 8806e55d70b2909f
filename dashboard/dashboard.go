// Package dashboard wires the session, query cache, mutation coordinator,
// REST client and realtime listener into one client process.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-dashboard/access"
	"prism-dashboard/domain"
	"prism-dashboard/kanban"
	"prism-dashboard/mutation"
	"prism-dashboard/querycache"
	"prism-dashboard/realtime"
	"prism-dashboard/restclient"
	"prism-dashboard/session"
	"prism-dashboard/storage"
)

const (
	defaultJanitorInterval = time.Minute
	defaultStaleTime       = 30 * time.Second
)

// Options configures a Dashboard.
type Options struct {
	APIURL  string
	HTTP    *http.Client
	Storage storage.Store
	// Realtime builds the push source for a session token. Nil disables
	// realtime invalidation.
	Realtime        func(token string) realtime.Source
	Cache           querycache.Config
	JanitorInterval time.Duration
	Logger          *log.Logger
}

// Dashboard is the client core: everything a screen reads or writes goes
// through it.
type Dashboard struct {
	session *session.Store
	cache   *querycache.Cache
	coord   *mutation.Coordinator
	api     *restclient.Client
	routes  []access.Route
	nav     []access.NavItem
	logger  *log.Logger

	newSource       func(token string) realtime.Source
	janitorInterval time.Duration
	redirects       chan string

	mu       sync.Mutex
	base     context.Context
	rt       *realtimeRun
	boards   map[string]*kanban.Board
	// rejected is the token the API last answered 401 to.
	rejected string
	started  bool
	stopOnce sync.Once
}

type realtimeRun struct {
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) (*Dashboard, error) {
	if opts.Storage == nil {
		return nil, errors.New("dashboard: storage is required")
	}
	if err := access.ValidateNavigation(access.DefaultRoutes, access.DefaultNavigation); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	cacheCfg := opts.Cache
	if cacheCfg.Logger == nil {
		cacheCfg.Logger = logger
	}
	if cacheCfg.StaleTime <= 0 {
		cacheCfg.StaleTime = defaultStaleTime
	}
	interval := opts.JanitorInterval
	if interval <= 0 {
		interval = defaultJanitorInterval
	}

	cache := querycache.New(cacheCfg)
	d := &Dashboard{
		session:         session.NewStore(opts.Storage, logger),
		cache:           cache,
		coord:           mutation.NewCoordinator(cache, logger),
		routes:          access.DefaultRoutes,
		nav:             access.DefaultNavigation,
		logger:          logger,
		newSource:       opts.Realtime,
		janitorInterval: interval,
		redirects:       make(chan string, 1),
		base:            context.Background(),
		boards:          make(map[string]*kanban.Board),
	}
	api, err := restclient.New(restclient.Config{
		BaseURL:        opts.APIURL,
		HTTP:           opts.HTTP,
		Token:          d.session.Token,
		OnUnauthorized: d.unauthorized,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	d.api = api
	d.session.Subscribe(d.sessionChanged)
	return d, nil
}

// Start restores the persisted session and starts background work bound to
// ctx. It must be called once before gate decisions are trusted.
func (d *Dashboard) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.base = ctx
	d.mu.Unlock()

	d.session.Initialize(ctx)
	go d.cache.RunJanitor(ctx, d.janitorInterval)
}

// Stop tears down the realtime connection.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(d.stopRealtime)
}

func (d *Dashboard) Session() session.Session { return d.session.Current() }

func (d *Dashboard) Cache() *querycache.Cache { return d.cache }

func (d *Dashboard) API() *restclient.Client { return d.api }

// Validator checks payloads the same way mutations do.
func (d *Dashboard) Validator() *mutation.Validator { return d.coord.Validator() }

// Redirects delivers navigation requests raised outside a gate decision,
// such as a 401 from the API. Undelivered redirects are coalesced.
func (d *Dashboard) Redirects() <-chan string { return d.redirects }

func (d *Dashboard) unauthorized() {
	d.logger.Warn("dashboard: API rejected the session credential")
	if tok := d.session.Token(); tok != "" {
		d.mu.Lock()
		d.rejected = tok
		d.mu.Unlock()
	}
	select {
	case d.redirects <- access.LoginPath:
	default:
	}
}

// Rejected reports whether the API has answered 401 to the current
// session's token. It resets on the next session change.
func (d *Dashboard) Rejected() bool {
	tok := d.session.Token()
	d.mu.Lock()
	defer d.mu.Unlock()
	return tok != "" && tok == d.rejected
}

// Login authenticates against the API and stores the session.
func (d *Dashboard) Login(ctx context.Context, email, password string) (session.Session, error) {
	req := domain.LoginRequest{Email: email, Password: password}
	if err := d.coord.Validator().Validate(req); err != nil {
		return session.Session{}, err
	}
	resp, err := d.api.Login(ctx, req)
	if err != nil {
		return session.Session{}, err
	}
	d.cache.Clear()
	if err := d.session.Login(ctx, resp); err != nil {
		return session.Session{}, fmt.Errorf("store session: %w", err)
	}
	return d.session.Current(), nil
}

// Logout clears the session; the cache and realtime connection go with it.
func (d *Dashboard) Logout(ctx context.Context) error {
	return d.session.Logout(ctx)
}

func (d *Dashboard) sessionChanged(s session.Session) {
	d.mu.Lock()
	d.rejected = ""
	d.mu.Unlock()
	switch {
	case s.Authenticated():
		d.startRealtime(s.Token)
	case !s.Loading():
		d.stopRealtime()
		d.cache.Clear()
		d.mu.Lock()
		d.boards = make(map[string]*kanban.Board)
		d.mu.Unlock()
	}
}

func (d *Dashboard) startRealtime(token string) {
	if d.newSource == nil {
		return
	}
	d.mu.Lock()
	if d.rt != nil && d.rt.token == token {
		d.mu.Unlock()
		return
	}
	prev := d.rt
	ctx, cancel := context.WithCancel(d.base)
	run := &realtimeRun{token: token, cancel: cancel, done: make(chan struct{})}
	d.rt = run
	d.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	listener := realtime.NewListener(d.newSource(token), d.cache, d.logger)
	go func() {
		defer close(run.done)
		listener.Run(ctx)
	}()
}

func (d *Dashboard) stopRealtime() {
	d.mu.Lock()
	run := d.rt
	d.rt = nil
	d.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

// RealtimeActive reports whether a realtime listener is running.
func (d *Dashboard) RealtimeActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rt != nil
}

func (d *Dashboard) viewer() access.Viewer { return access.ViewerOf(d.session.Current()) }

// Navigate is the gate decision for path under the current session.
func (d *Dashboard) Navigate(path string) access.Decision {
	return access.DecideRoute(d.routes, d.viewer(), path)
}

// Navigation is the menu visible to the current session.
func (d *Dashboard) Navigation() []access.NavItem {
	return access.Visible(d.routes, d.nav, d.viewer())
}

// Affordances reports which list actions the current identity may see.
func (d *Dashboard) Affordances() access.ListAffordances {
	ident := d.session.Identity()
	if ident == nil {
		return access.ListAffordances{}
	}
	return access.Affordances(ident.Role)
}

// Board returns the kanban board for filter. Boards are kept per filter so a
// gesture survives between calls.
func (d *Dashboard) Board(filter domain.TaskFilter) *kanban.Board {
	key := querycache.TasksKey(filter).String()
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.boards[key]; ok {
		return b
	}
	b := kanban.NewBoard(d.cache, d.coord, filter, d.api.Tasks, d.api.UpdateTaskStatus, d.logger)
	d.boards[key] = b
	return b
}

// MoveTask drags task id onto the status lane of the board for filter,
// loading the board first when it is not cached.
func (d *Dashboard) MoveTask(ctx context.Context, filter domain.TaskFilter, id int, status domain.TaskStatus) (kanban.Result, error) {
	b := d.Board(filter)
	if _, err := b.Tasks(ctx); err != nil {
		return kanban.Result{}, err
	}
	b.BeginDrag(id)
	b.DragOver(status)
	return b.Drop(ctx, status), nil
}
