package restclient

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrUnauthorized matches any APIError carrying a 401.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-success response from the REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// StatusCode lets the query cache record the status next to the message.
func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// errorMessage extracts a readable message from an error body: the JSON
// "message" field (a string, or a list of validation messages), else the
// body as plain text, else fallback.
func errorMessage(body []byte, fallback string) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	if text[0] != '{' {
		if text[0] == '[' || text[0] == '"' {
			return fallback
		}
		return text
	}
	var payload struct {
		Message any `json:"message"`
	}
	if err := sonic.UnmarshalString(text, &payload); err != nil {
		return fallback
	}
	switch m := payload.Message.(type) {
	case string:
		if m != "" {
			return m
		}
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			if s, ok := p.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	return fallback
}
