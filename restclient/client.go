// Package restclient is the boundary to the project management REST API.
package restclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL string
	HTTP    *http.Client
	// Token returns the bearer credential for each request.
	Token func() string
	// OnUnauthorized runs whenever an authenticated request gets a 401.
	OnUnauthorized func()
	Logger         *log.Logger
}

// Client issues authenticated JSON requests against the API.
type Client struct {
	base           *url.URL
	http           *http.Client
	token          func() string
	onUnauthorized func()
	logger         *log.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", cfg.BaseURL)
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		base:           base,
		http:           httpClient,
		token:          token,
		onUnauthorized: cfg.OnUnauthorized,
		logger:         logger,
	}, nil
}

// BaseURL is the configured API root without a trailing slash.
func (c *Client) BaseURL() string { return c.base.String() }

type request struct {
	op       string
	method   string
	path     string
	query    url.Values
	body     any
	raw      io.Reader
	rawType  string
	fallback string
	// anonymous requests carry no credential and never trigger the
	// unauthorized hook.
	anonymous bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	m, ctx := newRequestMetrics(ctx, c.logger, r.op, r.method, r.path)

	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.raw != nil:
		body, contentType = r.raw, r.rawType
	case r.body != nil:
		start := time.Now()
		buf, err := sonic.Marshal(r.body)
		if err != nil {
			err = fmt.Errorf("encode %s: %w", r.op, err)
			m.Finish(0, err)
			return err
		}
		m.ObserveEncode(time.Since(start))
		body, contentType = bytes.NewReader(buf), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		m.Finish(0, err)
		return fmt.Errorf("%s: %w", r.fallback, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !r.anonymous {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		m.Finish(0, err)
		return fmt.Errorf("%s: %w", r.fallback, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		m.Finish(resp.StatusCode, err)
		return fmt.Errorf("%s: read body: %w", r.fallback, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(data, r.fallback)}
		m.Finish(resp.StatusCode, apiErr)
		if resp.StatusCode == http.StatusUnauthorized && !r.anonymous && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return apiErr
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		start := time.Now()
		if err := sonic.Unmarshal(data, out); err != nil {
			err = fmt.Errorf("decode %s: %w", r.op, err)
			m.Finish(resp.StatusCode, err)
			return err
		}
		m.ObserveDecode(time.Since(start))
	}
	m.Finish(resp.StatusCode, nil)
	return nil
}

// list fetches a collection. A 401 yields an empty list and no error; the
// unauthorized hook has already run by then.
func list[T any](ctx context.Context, c *Client, r request) ([]T, error) {
	r.method = http.MethodGet
	var items []T
	err := c.do(ctx, r, &items)
	if errors.Is(err, ErrUnauthorized) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func one[T any](ctx context.Context, c *Client, r request) (T, error) {
	var out T
	if err := c.do(ctx, r, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func idPath(collection string, id int) string {
	return fmt.Sprintf("/%s/%d", collection, id)
}
