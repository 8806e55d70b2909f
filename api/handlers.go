package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-dashboard/access"
	"prism-dashboard/dashboard"
	"prism-dashboard/domain"
	"prism-dashboard/kanban"
	"prism-dashboard/mutation"
	"prism-dashboard/restclient"
)

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decide answers a navigation to path with the gate decision alone.
func decide(core Core, path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return writeDecision(c, core.Navigate(path))
	}
}

func getLogin(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, viewOf(core.Session()))
	}
}

func postLogin(core Core, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.LoginRequest
		if err := c.Bind(&in); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
		}
		s, err := core.Login(c.Request().Context(), in.Email, in.Password)
		if err != nil {
			status := loginStatus(err)
			if status >= http.StatusInternalServerError {
				logger.WithError(err).Warn("login failed")
			}
			return c.JSON(status, errorBody{Error: err.Error()})
		}
		out := viewOf(s)
		out.Next = access.DashboardPath
		if d := core.Navigate(access.DashboardPath); d.Kind == access.Redirect {
			out.Next = d.Path
		}
		return c.JSON(http.StatusOK, out)
	}
}

func loginStatus(err error) int {
	var apiErr *restclient.APIError
	switch {
	case errors.Is(err, mutation.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return apiErr.Status
	default:
		return http.StatusBadGateway
	}
}

func postLogout(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := core.Logout(c.Request().Context()); err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getNav(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		s := core.Session()
		if !s.Authenticated() {
			return writeDecision(c, core.Navigate(access.DashboardPath))
		}
		return c.JSON(http.StatusOK, navResponse{
			Items:       core.Navigation(),
			Affordances: core.Affordances(),
			User:        s.Identity,
		})
	}
}

func getUsers(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := domain.ParseUserFilter(c.QueryParams())
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		users, err := core.Users(c.Request().Context(), f)
		if err != nil {
			return fetchFailed(c, err)
		}
		if core.Rejected() {
			return toLogin(c)
		}
		return c.JSON(http.StatusOK, usersResponse{Users: users, Affordances: core.Affordances()})
	}
}

func getProjects(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		projects, err := core.Projects(c.Request().Context())
		if err != nil {
			return fetchFailed(c, err)
		}
		if core.Rejected() {
			return toLogin(c)
		}
		return c.JSON(http.StatusOK, projectsResponse{Projects: projects, Affordances: core.Affordances()})
	}
}

func getTasks(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := domain.ParseTaskFilter(c.QueryParams())
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		tasks, err := core.Tasks(c.Request().Context(), f)
		if err != nil {
			return fetchFailed(c, err)
		}
		if core.Rejected() {
			return toLogin(c)
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, Affordances: core.Affordances()})
	}
}

func getKanban(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := domain.ParseTaskFilter(c.QueryParams())
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		b := core.Board(f)
		tasks, err := b.Tasks(c.Request().Context())
		if err != nil {
			return fetchFailed(c, err)
		}
		if core.Rejected() {
			return toLogin(c)
		}
		out := kanbanResponse{Lanes: kanban.Lanes(tasks), InFlight: []int{}}
		for _, t := range tasks {
			if b.InFlight(t.ID) {
				out.InFlight = append(out.InFlight, t.ID)
			}
		}
		st := b.State()
		out.Dragging, out.Over = st.Dragging, st.Over
		return c.JSON(http.StatusOK, out)
	}
}

// postMove drops a task on a lane. A drop on a new lane answers 202 as soon
// as the board shows the move; with wait=true it answers once the server
// has confirmed or the move was rolled back. A request carrying an
// idempotency key that was already accepted gets a 409; the key is released
// again when the move does not stick.
func postMove(core Core, dedupe Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := domain.ParseTaskFilter(c.QueryParams())
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		var in moveRequest
		if err := c.Bind(&in); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
		}
		if err := c.Validate(in); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		wait, _ := strconv.ParseBool(c.QueryParam("wait"))
		ctx := c.Request().Context()

		key := c.Request().Header.Get(IdempotencyHeader)
		if dedupe == nil {
			key = ""
		}
		scope := "anonymous"
		if s := core.Session(); s.Identity != nil {
			scope = strconv.Itoa(s.Identity.ID)
		}
		if key != "" {
			added, err := dedupe.Add(ctx, scope, key)
			if err != nil {
				logger.WithError(err).Warn("idempotency check failed")
				return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "idempotency store unavailable"})
			}
			if !added {
				return c.JSON(http.StatusConflict, errorBody{Error: "move already accepted"})
			}
		}
		release := func() {
			if key == "" {
				return
			}
			if err := dedupe.Remove(context.WithoutCancel(ctx), scope, key); err != nil {
				logger.WithError(err).Warn("failed to release idempotency key")
			}
		}

		b := core.Board(f)
		if _, err := b.Tasks(ctx); err != nil {
			release()
			return fetchFailed(c, err)
		}
		if core.Rejected() {
			release()
			return toLogin(c)
		}
		res := b.DropPayload(ctx, in.Status, in.Payload)
		out := moveView(res)
		switch res.Outcome {
		case kanban.Cancelled:
			release()
			return c.JSON(http.StatusUnprocessableEntity, out)
		case kanban.DroppedOnSame:
			release()
			return c.JSON(http.StatusOK, out)
		}
		if !wait {
			go func() {
				<-res.Pending.Done()
				if res.Pending.Err() != nil {
					release()
				}
			}()
			return c.JSON(http.StatusAccepted, out)
		}
		_, err = res.Pending.Wait(ctx)
		out.Settled = true
		if err != nil {
			release()
			logger.WithError(err).WithField("task", res.TaskID).Info("kanban move rolled back")
			out.Error = err.Error()
			return c.JSON(http.StatusBadGateway, out)
		}
		return c.JSON(http.StatusOK, out)
	}
}

func getCharts(core Core) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := dashboard.StatsFilter{From: c.QueryParam("from"), To: c.QueryParam("to")}
		if raw := c.QueryParam("projectId"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				return c.JSON(http.StatusBadRequest, errorBody{Error: "projectId must be a positive integer"})
			}
			f.ProjectID = id
		}
		stats, err := core.Stats(c.Request().Context(), f)
		if err != nil {
			return fetchFailed(c, err)
		}
		if core.Rejected() {
			return toLogin(c)
		}
		return c.JSON(http.StatusOK, stats)
	}
}

func fetchFailed(c echo.Context, err error) error {
	return c.JSON(http.StatusBadGateway, errorBody{Error: err.Error()})
}
