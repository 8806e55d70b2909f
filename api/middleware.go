package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"prism-dashboard/access"
)

// requireView runs the gate for the dashboard view at path before the
// handler. Redirects become 302s and a session that is still loading gets a
// 503 so the caller asks again. A session the API has rejected is sent to
// the login page.
func requireView(core Core, path string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := core.Navigate(path)
			if !d.Allowed() {
				return writeDecision(c, d)
			}
			if core.Rejected() {
				return toLogin(c)
			}
			return next(c)
		}
	}
}

// toLogin is the redirect for a 401 raised while serving a view.
func toLogin(c echo.Context) error {
	return writeDecision(c, access.Decision{Kind: access.Redirect, Path: access.LoginPath})
}

func writeDecision(c echo.Context, d access.Decision) error {
	switch d.Kind {
	case access.Redirect:
		return c.Redirect(http.StatusFound, d.Path)
	case access.Defer:
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "session is loading"})
	default:
		return c.JSON(http.StatusOK, decisionView{Decision: d.Kind.String()})
	}
}

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers
// bind plain JSON. Invalid gzip payloads are rejected with a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
