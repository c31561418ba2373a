package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexgw/vortex/internal/backend"
	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/plugin"
	"github.com/vortexgw/vortex/internal/util"
)

func hostFromURL(t *testing.T, rawURL string) config.BackendHost {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.BackendHost{Address: host, Port: port}
}

func newTestGroup(t *testing.T, hosts ...config.BackendHost) *backend.Group {
	t.Helper()

	g, err := backend.NewGroup("r", config.BackendGroup{
		Hosts:       hosts,
		Policy:      config.PolicyRoundRobin,
		OnExhausted: config.ExhaustedFail,
	})
	require.NoError(t, err)
	return g
}

func forwardContext(r *http.Request) *plugin.RequestContext {
	return plugin.NewRequestContext(r, "r")
}

func TestForwardProxiesRequest(t *testing.T) {
	var seen *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		w.Header().Set("X-Upstream", "yes")
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	f := NewForwarder()
	group := newTestGroup(t, hostFromURL(t, srv.URL))

	r := httptest.NewRequest("GET", "http://gw.example.com/api/v1?x=1", nil)
	r.RemoteAddr = "203.0.113.5:9999"
	r.Header.Set("Te", "trailers")

	resp, err := f.Forward(context.Background(), forwardContext(r), group, 0, 0)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))

	require.NotNil(t, seen)
	assert.Equal(t, "/api/v1", seen.URL.Path)
	assert.Equal(t, "x=1", seen.URL.RawQuery)
	assert.Equal(t, "203.0.113.5", seen.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "http", seen.Header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "gw.example.com", seen.Header.Get("X-Forwarded-Host"))
	assert.Empty(t, seen.Header.Get("Te"))
}

func TestForwardAppendsForwardedFor(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Forwarded-For")
	}))
	defer srv.Close()

	f := NewForwarder()
	group := newTestGroup(t, hostFromURL(t, srv.URL))

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.5:9999"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")

	resp, err := f.Forward(context.Background(), forwardContext(r), group, 0, 0)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "198.51.100.1, 198.51.100.1", got)
}

func TestForwardRetriesOnConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "alive")
	}))
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadHost := hostFromURL(t, dead.URL)
	dead.Close()

	f := NewForwarder()
	group := newTestGroup(t, deadHost, hostFromURL(t, srv.URL))

	r := httptest.NewRequest("GET", "/", nil)
	resp, err := f.Forward(context.Background(), forwardContext(r), group, 0, 1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "alive", string(body))

	// the unreachable host was taken out of rotation
	assert.False(t, group.Hosts()[0].Healthy(time.Now()))
	assert.True(t, group.Hosts()[1].Healthy(time.Now()))
}

func TestForwardRetriesOnGatewayErrorResponse(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "alive")
	}))
	defer srv.Close()

	f := NewForwarder()
	group := newTestGroup(t, hostFromURL(t, bad.URL), hostFromURL(t, srv.URL))

	r := httptest.NewRequest("GET", "/", nil)
	resp, err := f.Forward(context.Background(), forwardContext(r), group, 0, 1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", string(body))

	// the failing host was taken out of rotation
	assert.False(t, group.Hosts()[0].Healthy(time.Now()))
	assert.True(t, group.Hosts()[1].Healthy(time.Now()))
}

func TestForwardGatewayErrorWithoutBudgetMarksUnhealthy(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	f := NewForwarder()
	group := newTestGroup(t, hostFromURL(t, bad.URL))

	r := httptest.NewRequest("GET", "/", nil)
	resp, err := f.Forward(context.Background(), forwardContext(r), group, 0, 0)
	require.NoError(t, err)
	defer resp.Body.Close()

	// the response passes through unchanged, but passive health records
	// the failure
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, group.Hosts()[0].Healthy(time.Now()))
}

func TestForwardDoesNotRetryOrdinaryErrorStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewForwarder()
	group := newTestGroup(t, hostFromURL(t, srv.URL))

	r := httptest.NewRequest("GET", "/", nil)
	resp, err := f.Forward(context.Background(), forwardContext(r), group, 0, 2)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 1, calls)
	assert.True(t, group.Hosts()[0].Healthy(time.Now()))
}

func TestForwardFailsWithoutRetryBudget(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadHost := hostFromURL(t, dead.URL)
	dead.Close()

	f := NewForwarder()
	group := newTestGroup(t, deadHost)

	r := httptest.NewRequest("GET", "/", nil)
	_, err := f.Forward(context.Background(), forwardContext(r), group, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrUpstreamUnavail))
}

func TestForwardTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := NewForwarder()
	group := newTestGroup(t, hostFromURL(t, srv.URL))

	r := httptest.NewRequest("GET", "/", nil)
	_, err := f.Forward(context.Background(), forwardContext(r), group, 50*time.Millisecond, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrTimeout))
}

func TestForwardExhaustedGroupFails(t *testing.T) {
	g := newTestGroup(t, config.BackendHost{Address: "192.0.2.1", Port: 80})
	g.MarkFailure(g.Hosts()[0])

	f := NewForwarder()
	r := httptest.NewRequest("GET", "/", nil)
	_, err := f.Forward(context.Background(), forwardContext(r), g, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrUpstreamUnavail))
}

func TestStripHopHeadersHonorsConnectionHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom-Hop, Keep-Alive")
	h.Set("X-Custom-Hop", "v")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("X-Keep", "v")

	stripHopHeaders(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Custom-Hop"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Equal(t, "v", h.Get("X-Keep"))
}

func TestWriteResponseStreamsBodyAndHeaders(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusCreated,
		Header:     http.Header{"X-A": []string{"1", "2"}},
		Body:       io.NopCloser(strings.NewReader("payload")),
	}

	rec := httptest.NewRecorder()
	require.NoError(t, WriteResponse(rec, resp))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"1", "2"}, rec.Header().Values("X-A"))
	assert.Equal(t, "payload", rec.Body.String())
}
