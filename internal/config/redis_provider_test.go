package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providerGatewayDoc = `
listener:
  port: 8443
`

const providerRouteDoc = `
name: api
hosts: [api.example.com]
match:
  - uri:
      prefix: /api
backends:
  hosts:
    - address: 10.0.0.1
      port: 8080
`

func publishConfig(t *testing.T, mr *miniredis.Miniredis, version string) {
	t.Helper()
	require.NoError(t, mr.Set("vortex:conf:version", version))
	require.NoError(t, mr.Set("vortex:conf:gateway", providerGatewayDoc))
	mr.Del("vortex:conf:routes")
	if _, err := mr.Push("vortex:conf:routes", providerRouteDoc); err != nil {
		t.Fatal(err)
	}
}

func newProviderClient(t *testing.T, mr *miniredis.Miniredis) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisProviderInitialLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	publishConfig(t, mr, "1")

	snapshots := make(chan *Snapshot, 4)
	cfg := DefaultRedisConfig()
	cfg.PollInterval = Duration(20 * time.Millisecond)

	p := NewRedisProvider(newProviderClient(t, mr), cfg, func(s *Snapshot) { snapshots <- s })
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	select {
	case s := <-snapshots:
		assert.Equal(t, 8443, s.Listener.Port)
		require.Len(t, s.Routes, 1)
		assert.Equal(t, "api", s.Routes[0].Name)
	case <-time.After(time.Second):
		t.Fatal("initial snapshot not delivered")
	}
}

func TestRedisProviderPicksUpVersionBump(t *testing.T) {
	mr := miniredis.RunT(t)
	publishConfig(t, mr, "1")

	snapshots := make(chan *Snapshot, 4)
	cfg := DefaultRedisConfig()
	cfg.PollInterval = Duration(20 * time.Millisecond)

	p := NewRedisProvider(newProviderClient(t, mr), cfg, func(s *Snapshot) { snapshots <- s })
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	<-snapshots // initial

	publishConfig(t, mr, "2")

	select {
	case s := <-snapshots:
		assert.Equal(t, "api", s.Routes[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("version bump not picked up")
	}
}

func TestRedisProviderIgnoresUnchangedVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	publishConfig(t, mr, "1")

	snapshots := make(chan *Snapshot, 8)
	cfg := DefaultRedisConfig()
	cfg.PollInterval = Duration(10 * time.Millisecond)

	p := NewRedisProvider(newProviderClient(t, mr), cfg, func(s *Snapshot) { snapshots <- s })
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	<-snapshots
	time.Sleep(100 * time.Millisecond)

	select {
	case <-snapshots:
		t.Fatal("unchanged version must not rebuild the snapshot")
	default:
	}
}

func TestRedisProviderStartWithoutConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	p := NewRedisProvider(newProviderClient(t, mr), DefaultRedisConfig(), nil)
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration published")
}

func TestRedisProviderBadRouteKeepsPrevious(t *testing.T) {
	mr := miniredis.RunT(t)
	publishConfig(t, mr, "1")

	snapshots := make(chan *Snapshot, 4)
	errs := make(chan error, 4)
	cfg := DefaultRedisConfig()
	cfg.PollInterval = Duration(20 * time.Millisecond)

	p := NewRedisProvider(newProviderClient(t, mr), cfg,
		func(s *Snapshot) { snapshots <- s },
		WithProviderErrorCallback(func(err error) { errs <- err }),
	)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	<-snapshots

	require.NoError(t, mr.Set("vortex:conf:version", "2"))
	mr.Del("vortex:conf:routes")
	if _, err := mr.Push("vortex:conf:routes", "name: ["); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poll error not reported")
	}

	select {
	case <-snapshots:
		t.Fatal("broken config must not produce a snapshot")
	default:
	}
}
