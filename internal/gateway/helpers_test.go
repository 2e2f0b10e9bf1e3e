// ABOUTME: Shared fakes for gateway tests: an in-memory socket and link builders
// ABOUTME: Also provides log capture and a prometheus counter reader

package gateway

import (
	"bytes"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleet/internal/protocol"
)

// fakeSocket is an in-memory Socket. Inbound frames are fed through
// inbound; written frames are recorded.
type fakeSocket struct {
	mu       sync.Mutex
	written  [][]byte
	controls [][]byte
	writeErr func(n int) error

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case b := <-s.inbound:
		return websocket.TextMessage, b, nil
	case <-s.closed:
		return 0, nil, net.ErrClosed
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	if s.writeErr != nil {
		if err := s.writeErr(len(s.written)); err != nil {
			return err
		}
	}
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) WriteControl(_ int, data []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, data)
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// frames decodes every text frame written so far.
func (s *fakeSocket) frames(t *testing.T) []protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(s.written))
	for _, raw := range s.written {
		env, err := protocol.Decode(raw)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (s *fakeSocket) controlFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.controls...)
}

// logBuffer is a goroutine-safe sink for captured log output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestLink builds a connection and one link over a fake socket without
// starting any goroutines.
func newTestLink(t *testing.T, opts Options) (*link, *fakeSocket) {
	t.Helper()
	if opts.URL == "" {
		opts.URL = "ws://gateway.test/"
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	c, err := newConnection("acct-1", "secret-token", opts)
	require.NoError(t, err)

	sock := newFakeSocket()
	l := c.newLink(sock)
	t.Cleanup(func() {
		l.end(endReason{err: ErrClosed, final: true})
		l.wg.Wait()
	})
	return l, sock
}

// startWriter runs the writer for l in the background.
func startWriter(l *link) {
	l.wg.Add(1)
	go l.writeLoop()
}

// waitGroupDone reports whether wg finished within d.
func waitGroupDone(wg *sync.WaitGroup, d time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

// counterValue sums every series of a counter family in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

func int64Ptr(v int64) *int64 { return &v }
