package relaychat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotConnected     = errors.New("hub: not connected")
	ErrConnectionClosed = errors.New("hub: connection closed")
	ErrEndpointNotFound = errors.New("hub: endpoint not found")
)

// ConfigurationError reports missing or invalid settings. No connection is attempted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// TransportError wraps a failure to reach the hub or to complete a call on it.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.NotFound() {
		b.WriteString(" (hub endpoint not found: check that the hub URL path matches the server; common paths are /hub and /hubs/chat)")
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFound reports whether the failure looks like a wrong endpoint path.
func (e *TransportError) NotFound() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	if e.Err == nil {
		return false
	}
	msg := e.Err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "Not Found")
}

func (e *TransportError) Is(target error) bool {
	return target == ErrEndpointNotFound && e.NotFound()
}

// HubError is an error completion returned by the server for an invocation.
type HubError struct {
	Target  string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub: %s failed: %s", e.Target, e.Message)
}

var methodNotFoundMarkers = []string{
	"method does not exist",
	"unknown hub method",
	"does not exist",
}

// IsMethodNotFound reports whether the server answered an invocation saying it
// lacks the method. Only *HubError completions qualify.
func IsMethodNotFound(err error) bool {
	var he *HubError
	if !errors.As(err, &he) {
		return false
	}
	msg := strings.ToLower(he.Message)
	for _, marker := range methodNotFoundMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
