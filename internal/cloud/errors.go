package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotAuthenticated is returned when login is required but no
	// credentials are configured.
	ErrNotAuthenticated = errors.New("cloud: not authenticated")
	// ErrEmptyToken is returned when login succeeds without an access token.
	ErrEmptyToken = errors.New("cloud: login returned no access token")
)

// APIError is a non-2xx response from the cloud API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud API error (%d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err asks the client to log in again.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || strings.Contains(apiErr.Message, "SmartAuth")
}

// errorMessage extracts a readable message from an error body. The API
// uses {"errors": {...}}, {"error": {...}} or a bare object, each carrying
// either a message or a name.
func errorMessage(body []byte) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			return s
		}
		return "empty response"
	}

	payload := body
	if raw, ok := envelope["errors"]; ok {
		payload = raw
	} else if raw, ok := envelope["error"]; ok {
		payload = raw
	}

	var str string
	if json.Unmarshal(payload, &str) == nil && str != "" {
		return str
	}

	var fields struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	}
	if json.Unmarshal(payload, &fields) == nil {
		if fields.Message != "" {
			return fields.Message
		}
		if fields.Name != "" {
			return fields.Name
		}
	}
	return string(payload)
}
