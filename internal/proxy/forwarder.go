// Package proxy forwards admitted requests to upstream hosts and streams
// responses back to clients.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vortexgw/vortex/internal/backend"
	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/plugin"
	"github.com/vortexgw/vortex/internal/util"
)

// hopHeaders are stripped before forwarding in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder performs the upstream call for the request pipeline. One
// forwarder is shared by all routes and carries the pooled transport.
type Forwarder struct {
	transport http.RoundTripper
	logger    observability.Logger
}

// ForwarderOption is a functional option for the forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the logger.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithForwarderTransport overrides the transport. Used in tests.
func WithForwarderTransport(rt http.RoundTripper) ForwarderOption {
	return func(f *Forwarder) {
		f.transport = rt
	}
}

// NewForwarder creates a forwarder with a pooled transport.
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Transport returns the underlying round tripper.
func (f *Forwarder) Transport() http.RoundTripper {
	return f.transport
}

// Forward sends the request to a host picked from the group. Transport
// failures and 502-class responses mark the picked host unhealthy and,
// within the retry budget, the request is retried against another pick.
// A deadline hit surfaces as an upstream timeout and consumes the
// remaining budget.
func (f *Forwarder) Forward(ctx context.Context, rc *plugin.RequestContext, group *backend.Group, timeout time.Duration, retries int) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	attempts := 1 + retries
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		host, err := group.Pick()
		if err != nil {
			cancel()
			return nil, err
		}

		req, err := f.buildUpstreamRequest(ctx, rc, group, host)
		if err != nil {
			cancel()
			return nil, err
		}

		host.Acquire()
		start := time.Now()
		resp, err := f.transport.RoundTrip(req)
		upstreamDuration.WithLabelValues(rc.RouteName).Observe(time.Since(start).Seconds())

		if err == nil {
			failed := gatewayErrorStatus(resp.StatusCode)
			if failed {
				group.MarkFailure(host)
			}
			if !failed || attempt == attempts-1 || !retryable(rc.Request) {
				// the deadline stays armed until the body is done streaming
				resp.Body = &releasingBody{body: resp.Body, host: host, cancel: cancel}
				stripHopHeaders(resp.Header)
				return resp, nil
			}

			host.Release()
			drainAndClose(resp.Body)
			upstreamRetriesTotal.WithLabelValues(rc.RouteName).Inc()
			f.logger.Debug("retrying after gateway-class response",
				observability.String("route", rc.RouteName),
				observability.String("host", host.Addr()),
				observability.Int("status", resp.StatusCode),
				observability.Int("attempt", attempt+1))
			continue
		}

		host.Release()
		group.MarkFailure(host)
		lastErr = err

		if isTimeout(ctx, err) {
			cancel()
			return nil, util.NewUpstreamTimeoutError(group.Name(), err)
		}
		if ctx.Err() != nil {
			// client went away
			cancel()
			return nil, &util.UpstreamError{Backend: group.Name(), Message: "request canceled", Cause: ctx.Err()}
		}
		if !retryable(rc.Request) {
			break
		}

		upstreamRetriesTotal.WithLabelValues(rc.RouteName).Inc()
		f.logger.Debug("retrying upstream request",
			observability.String("route", rc.RouteName),
			observability.String("host", host.Addr()),
			observability.Int("attempt", attempt+1),
			observability.Error(err))
	}

	cancel()
	return nil, &util.UpstreamError{
		Backend: group.Name(),
		Message: "upstream request failed",
		Cause:   lastErr,
	}
}

// buildUpstreamRequest clones the inbound request for the upstream call,
// rewriting the target and the forwarding headers.
func (f *Forwarder) buildUpstreamRequest(ctx context.Context, rc *plugin.RequestContext, group *backend.Group, host *backend.Host) (*http.Request, error) {
	orig := rc.Request

	req := orig.Clone(ctx)
	req.URL.Scheme = group.Scheme()
	req.URL.Host = host.Addr()
	req.Host = host.Addr()
	req.RequestURI = ""
	req.Close = false

	// a retried attempt needs a fresh body
	if orig.Body != nil && orig.GetBody != nil {
		body, err := orig.GetBody()
		if err != nil {
			return nil, &util.UpstreamError{Backend: group.Name(), Message: "failed to rewind request body", Cause: err}
		}
		req.Body = body
	}

	stripHopHeaders(req.Header)

	if prior := orig.Header.Get("X-Forwarded-For"); prior != "" {
		req.Header.Set("X-Forwarded-For", prior+", "+rc.ClientIP)
	} else {
		req.Header.Set("X-Forwarded-For", rc.ClientIP)
	}
	if orig.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", orig.Host)

	return req, nil
}

// stripHopHeaders removes hop-by-hop headers, including those named by
// the Connection header.
func stripHopHeaders(h http.Header) {
	for _, conn := range h.Values("Connection") {
		for _, name := range strings.Split(conn, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// drainLimit bounds how much of a discarded response body is read so the
// connection can go back to the pool.
const drainLimit = 64 * 1024

// gatewayErrorStatus reports whether the status is a connect-class
// failure surfaced as a response (502, 503, 504).
func gatewayErrorStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// drainAndClose consumes a discarded response body before closing it.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}

// retryable reports whether the request can be replayed against another
// host. Requests with a consumed, non-rewindable body cannot.
func retryable(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	return r.GetBody != nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// releasingBody releases the host's in-flight slot and disarms the
// per-route deadline when the response body is closed.
type releasingBody struct {
	body     io.ReadCloser
	host     *backend.Host
	cancel   context.CancelFunc
	released bool
}

func (b *releasingBody) Read(p []byte) (int, error) {
	return b.body.Read(p)
}

func (b *releasingBody) Close() error {
	if !b.released {
		b.released = true
		b.host.Release()
		if b.cancel != nil {
			b.cancel()
		}
	}
	return b.body.Close()
}
