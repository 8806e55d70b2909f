package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// WebSocketSource reads events from a websocket. It speaks plain JSON event
// frames and the socket.io / engine.io text protocol (open, ping, event).
type WebSocketSource struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

func (s *WebSocketSource) Name() string { return "websocket" }

// SocketIOURL turns an API base URL into the engine.io websocket endpoint.
func SocketIOURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WebSocketSource) Stream(ctx context.Context, h Handler) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, s.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	h.OnConnect()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if err := s.handleFrame(conn, string(msg), h); err != nil {
			return err
		}
	}
}

func (s *WebSocketSource) handleFrame(conn *websocket.Conn, frame string, h Handler) error {
	switch {
	case frame == "":
		return nil
	case frame[0] == '{' || frame[0] == '"':
		if ev, ok := parseEnvelope([]byte(frame)); ok {
			h.OnEvent(ev)
		}
	case frame[0] == '0':
		// engine.io open: join the default namespace.
		return writeText(conn, "40")
	case frame == "2":
		return writeText(conn, "3")
	case strings.HasPrefix(frame, "42"):
		if ev, ok := parseSocketIOEvent(frame); ok {
			h.OnEvent(ev)
		}
	}
	return nil
}

func writeText(conn *websocket.Conn, msg string) error {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}
