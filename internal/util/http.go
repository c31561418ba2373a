package util

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
)

// errorBody is the JSON shape of every error response the gateway emits.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// WriteError maps an error through the gateway's error taxonomy and writes
// a well-formed JSON error response. A denied rate limit adds Retry-After.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	var rateLimitErr *RateLimitError
	var pluginErr *PluginError

	switch {
	case errors.As(err, &rateLimitErr):
		status = http.StatusTooManyRequests
		code = "rate_limited"
		retryAfter := int(rateLimitErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	case errors.Is(err, ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		code = "rate_limit_unavailable"
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "route_not_found"
	case errors.Is(err, ErrTimeout):
		status = http.StatusGatewayTimeout
		code = "upstream_timeout"
	case errors.Is(err, ErrUpstreamUnavail):
		status = http.StatusBadGateway
		code = "upstream_error"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConfigInvalid):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.As(err, &pluginErr):
		if pluginErr.StatusHint != 0 {
			status = pluginErr.StatusHint
		}
		code = "plugin_error"
	}

	WriteJSONError(w, status, code, err.Error())
}

// WriteJSONError writes a JSON error response with the given status.
func WriteJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:   code,
		Message: message,
		Status:  status,
	})
}

// StatusCapturingResponseWriter wraps http.ResponseWriter to track the
// status code after a handler has completed.
type StatusCapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode    int
	HeaderWritten bool
}

// NewStatusCapturingResponseWriter wraps w with a default status of 200 OK.
func NewStatusCapturingResponseWriter(w http.ResponseWriter) *StatusCapturingResponseWriter {
	return &StatusCapturingResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and writes it to the underlying ResponseWriter.
func (w *StatusCapturingResponseWriter) WriteHeader(code int) {
	if w.HeaderWritten {
		return
	}
	w.StatusCode = code
	w.HeaderWritten = true
	w.ResponseWriter.WriteHeader(code)
}

// Write writes data to the underlying ResponseWriter and marks header as written.
func (w *StatusCapturingResponseWriter) Write(b []byte) (int, error) {
	if !w.HeaderWritten {
		w.HeaderWritten = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming support.
func (w *StatusCapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for WebSocket upgrades.
func (w *StatusCapturingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		w.StatusCode = http.StatusSwitchingProtocols
		w.HeaderWritten = true
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

var _ http.Flusher = (*StatusCapturingResponseWriter)(nil)
var _ http.Hijacker = (*StatusCapturingResponseWriter)(nil)
