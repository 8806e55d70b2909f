// Package api exposes the dashboard core as a local HTTP surface: the gate
// decisions, the role-aware lists, the kanban board and the charts.
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"prism-dashboard/access"
	"prism-dashboard/dashboard"
	"prism-dashboard/domain"
	"prism-dashboard/kanban"
	"prism-dashboard/metrics"
	"prism-dashboard/mutation"
	"prism-dashboard/querycache"
	"prism-dashboard/session"
)

// Core is the part of the dashboard the HTTP surface drives.
type Core interface {
	Session() session.Session
	Navigate(path string) access.Decision
	Navigation() []access.NavItem
	Affordances() access.ListAffordances
	Validator() *mutation.Validator
	// Rejected reports a 401 from the API for the current session.
	Rejected() bool

	Login(ctx context.Context, email, password string) (session.Session, error)
	Logout(ctx context.Context) error

	Users(ctx context.Context, f domain.UserFilter) ([]domain.User, error)
	Projects(ctx context.Context) ([]domain.Project, error)
	Tasks(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error)
	Board(f domain.TaskFilter) *kanban.Board
	WatchTasks(f domain.TaskFilter) *querycache.Subscription
	Stats(ctx context.Context, f dashboard.StatsFilter) (dashboard.Stats, error)
}

// NewServer builds an Echo instance with the middleware stack and every
// route registered. dedupe may be nil, in which case idempotency keys are
// ignored.
func NewServer(core Core, dedupe Deduper, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = core.Validator()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, IdempotencyHeader},
	}))
	e.Use(GzipRequestMiddleware())
	e.Use(requestLogger(logger))

	Register(e, core, dedupe, logger)
	return e
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, core Core, dedupe Deduper, logger *log.Logger) {
	e.GET("/healthz", healthz())
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.GET(access.HomePath, decide(core, access.HomePath))
	e.GET(access.LoginPath, getLogin(core))
	e.POST(access.LoginPath, postLogin(core, logger))
	e.POST("/logout", postLogout(core))

	e.GET(access.DashboardPath, decide(core, access.DashboardPath))
	e.GET("/dashboard/nav", getNav(core))

	d := e.Group(access.DashboardPath)
	d.GET("/users", getUsers(core), requireView(core, "/dashboard/users"))
	d.GET("/projects", getProjects(core), requireView(core, "/dashboard/projects"))
	d.GET("/tasks", getTasks(core), requireView(core, "/dashboard/tasks"))
	d.GET("/kanban", getKanban(core), requireView(core, "/dashboard/kanban"))
	d.POST("/kanban/move", postMove(core, dedupe, logger), requireView(core, "/dashboard/kanban"))
	d.GET("/kanban/stream", streamTasks(core, logger), requireView(core, "/dashboard/kanban"))
	d.GET("/charts", getCharts(core), requireView(core, "/dashboard/charts"))
}

func requestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": float64(v.Latency.Microseconds()) / 1000,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("http request")
				return nil
			}
			entry.Debug("http request")
			return nil
		},
	})
}
