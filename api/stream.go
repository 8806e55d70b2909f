package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-dashboard/domain"
	"prism-dashboard/kanban"
)

// streamTasks pushes the kanban lanes for the requested filter as
// server-sent events, once on connect and again whenever the cached task
// list changes.
func streamTasks(core Core, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := domain.ParseTaskFilter(c.QueryParams())
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorBody{Error: "stream unsupported"})
		}
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := core.WatchTasks(f)
		defer sub.Close()
		ctx := c.Request().Context()
		for {
			entry := sub.Entry()
			switch {
			case entry.Err != nil:
				if err := writeEvent(c, "error", errorBody{Error: entry.Err.Message}); err != nil {
					logger.WithError(err).Debug("task stream closed")
					return nil
				}
			case entry.HasData:
				tasks, _ := entry.Data.([]domain.Task)
				if err := writeEvent(c, "tasks", kanban.Lanes(tasks)); err != nil {
					logger.WithError(err).Debug("task stream closed")
					return nil
				}
			}
			flusher.Flush()

			select {
			case <-ctx.Done():
				return nil
			case <-sub.Updates():
			}
		}
	}
}

func writeEvent(c echo.Context, name string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	w := c.Response()
	if _, err := w.Write([]byte("event: " + name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
