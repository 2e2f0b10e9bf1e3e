// ABOUTME: Tests for server construction, restore on start and shutdown
// ABOUTME: Uses a real SQLite file and the fake upstream over httptest

package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleet/internal/config"
	"github.com/2389/fleet/internal/fakegateway"
	"github.com/2389/fleet/internal/gateway"
	"github.com/2389/fleet/internal/protocol"
	"github.com/2389/fleet/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	upstream := fakegateway.New(map[string]protocol.User{
		"tok-a": {ID: "100", Username: "alpha"},
	}, discardLogger())
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	cfg := config.Defaults()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "fleet.db")
	cfg.Upstream.APIBaseURL = ts.URL + "/api/v10"
	cfg.Upstream.GatewayURL = "ws" + strings.TrimPrefix(ts.URL, "http") + fakegateway.GatewayPath
	cfg.Upstream.ProbeTimeout = time.Second
	cfg.Gateway.HandshakeTimeout = 2 * time.Second
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestServerRestoresStoredAccounts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	s, err := New(cfg, discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.store.CreateAccount(ctx, &store.Account{
		ExternalID: "100", Username: "alpha", Token: "tok-a", CreatedBy: "ops",
	}))
	require.NoError(t, s.store.CreateAccount(ctx, &store.Account{
		ExternalID: "999", Username: "ghost", Token: "tok-revoked", CreatedBy: "ops",
	}))

	require.NoError(t, s.Restore(ctx))
	assert.Equal(t, 2, s.manager.Len(), "a rejected token still gets a handle that ends on its own")

	h, ok := s.manager.Get("100")
	require.True(t, ok)
	require.Eventually(t, func() bool { return h.Phase() == gateway.PhaseEstablished },
		2*time.Second, 10*time.Millisecond)

	ghost, ok := s.manager.Get("999")
	require.True(t, ok)
	require.Eventually(t, func() bool { return ghost.Phase() == gateway.PhaseClosed },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, gateway.IsFatalClose(ghost.Err()))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(shutdownCtx))

	reopened, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer reopened.Close()
	all, err := reopened.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "shutdown keeps stored accounts")
}

func TestServerRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewFailsOnUnusableDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = t.TempDir() // a directory is not a database file

	_, err := New(cfg, discardLogger())
	assert.Error(t, err)
}
