package realtime

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// SSESource reads events from a text/event-stream endpoint. A message with
// an "event:" field uses it as the event name; otherwise its data is parsed
// as a JSON envelope.
type SSESource struct {
	URL   string
	Token string
	HTTP  *http.Client
}

func (s *SSESource) Name() string { return "sse" }

func (s *SSESource) Stream(ctx context.Context, h Handler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sse connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse connect: unexpected status %d", resp.StatusCode)
	}

	h.OnConnect()
	var name string
	var data []string
	dispatch := func() {
		defer func() { name, data = "", nil }()
		if name == "" && len(data) == 0 {
			return
		}
		payload := strings.Join(data, "\n")
		if name != "" && name != "message" {
			h.OnEvent(Event{Name: name, Data: []byte(payload)})
			return
		}
		if ev, ok := parseEnvelope([]byte(payload)); ok {
			h.OnEvent(ev)
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sse read: %w", err)
	}
	return nil
}
