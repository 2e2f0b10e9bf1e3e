// ABOUTME: End-to-end tests for gateway connections against an in-process fake gateway
// ABOUTME: Covers identify, commands, resume after drops, fatal closes, zombies and shutdown

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleet/internal/fakegateway"
	"github.com/2389/fleet/internal/protocol"
)

const testToken = "token-alpha"

func startFakeGateway(t *testing.T) (*fakegateway.Server, string) {
	t.Helper()
	srv := fakegateway.New(map[string]protocol.User{
		testToken: {ID: "100", Username: "alpha"},
	}, discardLogger())
	srv.Guilds = []protocol.Guild{{ID: "g0", Name: "zero"}, {ID: "g1", Name: "one"}}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + fakegateway.GatewayPath
}

func nextSession(t *testing.T, srv *fakegateway.Server) *fakegateway.Session {
	t.Helper()
	select {
	case s := <-srv.Sessions():
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no gateway session accepted")
		return nil
	}
}

func nextFrame(t *testing.T, s *fakegateway.Session) protocol.Envelope {
	t.Helper()
	select {
	case env := <-s.Received:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received from client")
		return protocol.Envelope{}
	}
}

func waitPhase(t *testing.T, c *Connection, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Phase() == want }, 2*time.Second, 5*time.Millisecond,
		"phase stayed %s, want %s", c.Phase(), want)
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not end")
	}
}

func openTest(t *testing.T, url string, opts Options) *Connection {
	t.Helper()
	opts.URL = url
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	c, err := Open(context.Background(), "acct-1", testToken, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func TestConnectionIdentifiesAndSends(t *testing.T) {
	srv, url := startFakeGateway(t)
	reg := prometheus.NewRegistry()
	c := openTest(t, url, Options{
		Properties: protocol.Properties{OS: "linux", Browser: "fleet", Device: "fleet"},
		Metrics:    NewMetrics(reg),
	})

	sess := nextSession(t, srv)
	first := nextFrame(t, sess)
	require.Equal(t, protocol.OpIdentify, first.Op)
	assert.JSONEq(t,
		`{"token":"token-alpha","properties":{"os":"linux","browser":"fleet","device":"fleet"}}`,
		string(first.Data))

	waitPhase(t, c, PhaseEstablished)
	n, ok := c.LastSequence()
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	channel := "c1"
	require.NoError(t, c.Send(protocol.UpdateVoiceState{GuildID: "g1", ChannelID: &channel}))
	frame := nextFrame(t, sess)
	assert.Equal(t, protocol.OpVoiceStateUpdate, frame.Op)

	assert.Equal(t, 1.0, counterValue(t, reg, "fleet_gateway_open_sockets"))
	assert.Eventually(t, func() bool {
		return counterValue(t, reg, "fleet_gateway_frames_sent_total") >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestOpenDialFailureIsNotRetried(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/gateway"
	ts.Close()

	c, err := Open(context.Background(), "acct-1", testToken, Options{
		URL:       url,
		Reconnect: true,
		Logger:    discardLogger(),
	})
	assert.Nil(t, c)

	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr), "got %T", err)
	assert.Contains(t, cerr.URL, "/gateway")
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(context.Background(), "acct-1", testToken, Options{URL: "http://not-a-socket"})
	var cerr *ConnectError
	assert.True(t, errors.As(err, &cerr))
}

func TestConnectionFatalCloseEndsConnection(t *testing.T) {
	srv, url := startFakeGateway(t)
	c, err := Open(context.Background(), "acct-1", "wrong-token", Options{
		URL:       url,
		Reconnect: true,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	nextSession(t, srv)
	waitDone(t, c)

	assert.True(t, IsFatalClose(c.Err()), "got %v", c.Err())
	assert.Equal(t, PhaseClosed, c.Phase())
	assert.ErrorIs(t, c.Send(protocol.Heartbeat{}), ErrClosed)
}

func TestConnectionResumesAfterDrop(t *testing.T) {
	srv, url := startFakeGateway(t)
	c := openTest(t, url, Options{Reconnect: true, MaxReconnectElapsed: 5 * time.Second})

	first := nextSession(t, srv)
	nextFrame(t, first)
	waitPhase(t, c, PhaseEstablished)
	sessionID := first.ID()
	require.NotEmpty(t, sessionID)

	first.Drop()

	second := nextSession(t, srv)
	resume := nextFrame(t, second)
	require.Equal(t, protocol.OpResume, resume.Op)
	assert.JSONEq(t, `{"token":"token-alpha","session_id":"`+sessionID+`","seq":1}`, string(resume.Data))

	waitPhase(t, c, PhaseEstablished)
	n, _ := c.LastSequence()
	assert.Equal(t, int64(2), n, "resumed dispatch continues the sequence")
}

func TestConnectionReconnectRequest(t *testing.T) {
	srv, url := startFakeGateway(t)
	c := openTest(t, url, Options{Reconnect: true})

	first := nextSession(t, srv)
	nextFrame(t, first)
	waitPhase(t, c, PhaseEstablished)

	require.NoError(t, first.Send(protocol.OpReconnect, "", nil))

	second := nextSession(t, srv)
	assert.Equal(t, protocol.OpResume, nextFrame(t, second).Op)
	waitPhase(t, c, PhaseEstablished)
}

func TestConnectionInvalidSessionReidentifies(t *testing.T) {
	srv, url := startFakeGateway(t)
	c := openTest(t, url, Options{Reconnect: true})

	first := nextSession(t, srv)
	nextFrame(t, first)
	waitPhase(t, c, PhaseEstablished)

	require.NoError(t, first.Send(protocol.OpInvalidSession, "", false))

	second := nextSession(t, srv)
	assert.Equal(t, protocol.OpIdentify, nextFrame(t, second).Op)
	waitPhase(t, c, PhaseEstablished)
}

func TestConnectionWithoutReconnectEndsOnDrop(t *testing.T) {
	srv, url := startFakeGateway(t)
	c := openTest(t, url, Options{})

	sess := nextSession(t, srv)
	nextFrame(t, sess)
	waitPhase(t, c, PhaseEstablished)

	require.NoError(t, sess.CloseWith(websocket.CloseGoingAway, "bye"))
	waitDone(t, c)
	assert.Equal(t, PhaseClosed, c.Phase())
	assert.Error(t, c.Err())
}

func TestConnectionZombieDetection(t *testing.T) {
	srv, url := startFakeGateway(t)
	srv.HeartbeatInterval = 30 * time.Millisecond
	srv.IgnoreHeartbeats = true

	c := openTest(t, url, Options{ZombieDetection: true})

	waitDone(t, c)
	assert.ErrorIs(t, c.Err(), ErrZombie)
}

func TestConnectionHandshakeTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	c := openTest(t, "ws"+strings.TrimPrefix(ts.URL, "http"), Options{HandshakeTimeout: 50 * time.Millisecond})

	waitDone(t, c)
	assert.ErrorIs(t, c.Err(), ErrHandshakeTimeout)
}

func TestConnectionClose(t *testing.T) {
	srv, url := startFakeGateway(t)
	c := openTest(t, url, Options{Reconnect: true})

	sess := nextSession(t, srv)
	nextFrame(t, sess)
	waitPhase(t, c, PhaseEstablished)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	assert.Equal(t, PhaseClosed, c.Phase())
	assert.ErrorIs(t, c.Err(), ErrDisconnected)
	assert.ErrorIs(t, c.Send(protocol.Heartbeat{}), ErrClosed)

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the socket close")
	}

	select {
	case <-srv.Sessions():
		t.Fatal("a closed connection must not reconnect")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.Close(ctx), "close is idempotent")
}

func TestSendBeforeSocketIsLive(t *testing.T) {
	c, err := newConnection("acct-1", testToken, Options{URL: "ws://gateway.test"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(protocol.Heartbeat{}), ErrNotConnected)
}

func TestGatewayURL(t *testing.T) {
	u, err := gatewayURL("wss://gateway.test")
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.test?encoding=json&v=10", u)

	u, err = gatewayURL("ws://gateway.test/?v=9&encoding=json")
	require.NoError(t, err)
	assert.Contains(t, u, "v=9")

	_, err = gatewayURL("https://gateway.test")
	assert.Error(t, err)
}
