package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/util"
)

func newRequest(method, host, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Host = host
	return req
}

func mustRouter(t *testing.T, routes []config.Route) *Router {
	t.Helper()
	r, err := New(routes)
	require.NoError(t, err)
	return r
}

func TestMatchPathSpecificity(t *testing.T) {
	r := mustRouter(t, []config.Route{
		{Name: "regex", Match: []config.RouteMatch{{URI: &config.URIMatch{Regex: `^/api/v\d+/users$`}}}},
		{Name: "prefix", Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/api"}}}},
		{Name: "long-prefix", Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/api/v1"}}}},
		{Name: "exact", Match: []config.RouteMatch{{URI: &config.URIMatch{Exact: "/api/v1/users"}}}},
	})

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/v1/users", want: "exact"},
		{path: "/api/v2/users", want: "regex"},
		{path: "/api/v1/orders", want: "long-prefix"},
		{path: "/api/other", want: "prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result, err := r.Match(newRequest(http.MethodGet, "any.host", tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Route.Name)
		})
	}
}

func TestMatchHostStageBeforePathStage(t *testing.T) {
	// An exact host with a generic path beats a wildcard host with a
	// more specific path.
	r := mustRouter(t, []config.Route{
		{
			Name:  "wildcard-host",
			Hosts: []string{"*.example.com"},
			Match: []config.RouteMatch{{URI: &config.URIMatch{Exact: "/status"}}},
		},
		{
			Name:  "exact-host",
			Hosts: []string{"api.example.com"},
			Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/"}}},
		},
	})

	result, err := r.Match(newRequest(http.MethodGet, "api.example.com", "/status"))
	require.NoError(t, err)
	assert.Equal(t, "exact-host", result.Route.Name)

	// On other subdomains the wildcard route serves.
	result, err = r.Match(newRequest(http.MethodGet, "web.example.com", "/status"))
	require.NoError(t, err)
	assert.Equal(t, "wildcard-host", result.Route.Name)
}

func TestMatchLongestWildcardHostWins(t *testing.T) {
	r := mustRouter(t, []config.Route{
		{Name: "outer", Hosts: []string{"*.example.com"}},
		{Name: "inner", Hosts: []string{"*.svc.example.com"}},
	})

	result, err := r.Match(newRequest(http.MethodGet, "db.svc.example.com", "/"))
	require.NoError(t, err)
	assert.Equal(t, "inner", result.Route.Name)
}

func TestMatchHostPortStripped(t *testing.T) {
	r := mustRouter(t, []config.Route{
		{Name: "api", Hosts: []string{"api.example.com"}},
	})

	result, err := r.Match(newRequest(http.MethodGet, "api.example.com:8443", "/"))
	require.NoError(t, err)
	assert.Equal(t, "api", result.Route.Name)
}

func TestMatchMethodsHeadersQuery(t *testing.T) {
	r := mustRouter(t, []config.Route{
		{
			Name: "writes",
			Match: []config.RouteMatch{{
				URI:     &config.URIMatch{Prefix: "/api"},
				Methods: []string{"POST", "PUT"},
				Headers: []config.HeaderMatch{
					{Name: "X-Tenant", Exact: "acme"},
					{Name: "Authorization"},
				},
				QueryParams: []config.QueryParamMatch{{Name: "version", Regex: `^v\d+$`}},
			}},
		},
	})

	base := func() *http.Request {
		req := newRequest(http.MethodPost, "any", "/api/items?version=v2")
		req.Header.Set("X-Tenant", "acme")
		req.Header.Set("Authorization", "Bearer tok")
		return req
	}

	result, err := r.Match(base())
	require.NoError(t, err)
	assert.Equal(t, "writes", result.Route.Name)

	// Wrong method.
	req := base()
	req.Method = http.MethodGet
	_, err = r.Match(req)
	assert.Error(t, err)

	// Wrong header value.
	req = base()
	req.Header.Set("X-Tenant", "other")
	_, err = r.Match(req)
	assert.Error(t, err)

	// Missing presence-only header.
	req = base()
	req.Header.Del("Authorization")
	_, err = r.Match(req)
	assert.Error(t, err)

	// Query regex mismatch.
	req = newRequest(http.MethodPost, "any", "/api/items?version=latest")
	req.Header.Set("X-Tenant", "acme")
	req.Header.Set("Authorization", "Bearer tok")
	_, err = r.Match(req)
	assert.Error(t, err)
}

func TestMatchRegexPathParams(t *testing.T) {
	r := mustRouter(t, []config.Route{
		{Name: "users", Match: []config.RouteMatch{{URI: &config.URIMatch{Regex: `^/users/(?P<id>\d+)$`}}}},
	})

	result, err := r.Match(newRequest(http.MethodGet, "any", "/users/42"))
	require.NoError(t, err)
	assert.Equal(t, "42", result.PathParams["id"])
}

func TestMatchPrefixBoundary(t *testing.T) {
	r := mustRouter(t, []config.Route{
		{Name: "api", Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/api"}}}},
	})

	_, err := r.Match(newRequest(http.MethodGet, "any", "/apiv2/things"))
	require.Error(t, err)

	var notFound *util.RouteNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestMatchNoRouteFound(t *testing.T) {
	r := mustRouter(t, []config.Route{
		{Name: "api", Hosts: []string{"api.example.com"}},
	})

	_, err := r.Match(newRequest(http.MethodGet, "other.example.com", "/"))
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestMatchDeterministic(t *testing.T) {
	// Two routes with identical specificity: configured priority, then
	// declaration order breaks the tie, and repeated matches agree.
	r := mustRouter(t, []config.Route{
		{Name: "first", Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/api"}}}},
		{Name: "second", Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/api"}}}},
		{Name: "boosted", Priority: 10, Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/web"}}}},
		{Name: "plain", Match: []config.RouteMatch{{URI: &config.URIMatch{Prefix: "/web"}}}},
	})

	for i := 0; i < 50; i++ {
		result, err := r.Match(newRequest(http.MethodGet, "any", "/api/x"))
		require.NoError(t, err)
		assert.Equal(t, "first", result.Route.Name)

		result, err = r.Match(newRequest(http.MethodGet, "any", "/web/x"))
		require.NoError(t, err)
		assert.Equal(t, "boosted", result.Route.Name)
	}
}

func TestNewRejectsBadRoutes(t *testing.T) {
	_, err := New([]config.Route{
		{Name: "a"},
		{Name: "a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate route name")

	_, err = New([]config.Route{
		{Name: "bad", Match: []config.RouteMatch{{URI: &config.URIMatch{Regex: "("}}}},
	})
	require.Error(t, err)
}

func TestGetRoute(t *testing.T) {
	r := mustRouter(t, []config.Route{{Name: "api"}})

	route, ok := r.GetRoute("api")
	require.True(t, ok)
	assert.Equal(t, "api", route.Name)

	_, ok = r.GetRoute("missing")
	assert.False(t, ok)
}
