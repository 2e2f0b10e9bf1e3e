// ABOUTME: Gateway connection lifecycle for a single account
// ABOUTME: Supervises one socket at a time and reconnects or resumes after drops

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/2389/fleet/internal/protocol"
)

// Options configures a Connection. The zero value disables reconnects,
// zombie detection and the handshake timeout.
type Options struct {
	// URL is the gateway endpoint; v and encoding query params are added
	// when missing.
	URL        string
	Properties protocol.Properties

	// HandshakeTimeout bounds the time from socket open to Established.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Reconnect redials and resumes after a resumable drop.
	Reconnect bool
	// MaxReconnectElapsed caps one reconnect cycle. Zero retries forever.
	MaxReconnectElapsed time.Duration
	ZombieDetection     bool

	Dialer   Dialer
	Observer Observer
	Metrics  *Metrics
	Logger   *slog.Logger

	jitter func(time.Duration) time.Duration
	after  func(time.Duration) <-chan time.Time
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer(30*time.Second, "")
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// Connection is one account's gateway session. It is safe for concurrent use.
type Connection struct {
	accountID string
	token     string
	url       string
	opts      Options
	logger    *slog.Logger
	metrics   *Metrics
	observer  Observer

	seq   *Sequence
	phase phaseCell

	// Written by the dispatcher, read by the supervisor between sockets.
	sessionID string
	resumeURL string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cur     *link
	closing bool

	done chan struct{}
	err  error
}

// endReason says why a socket ended and whether the connection may reopen.
type endReason struct {
	err   error
	final bool
}

// link is the state of one socket: its queue and the three goroutines
// working it.
type link struct {
	c      *Connection
	sock   Socket
	queue  *Queue
	logger *slog.Logger

	resuming bool

	// Owned by the reader goroutine.
	heartbeatStarted bool

	acked       atomic.Bool
	established atomic.Bool

	wg      sync.WaitGroup
	done    chan struct{}
	endOnce sync.Once
	reason  endReason
}

// Open dials the gateway and starts the connection. A dial failure is
// returned as *ConnectError and is not retried.
func Open(ctx context.Context, accountID, token string, opts Options) (*Connection, error) {
	c, err := newConnection(accountID, token, opts)
	if err != nil {
		return nil, err
	}

	sock, err := c.opts.Dialer.Dial(ctx, c.url)
	if err != nil {
		c.cancel()
		c.phase.Store(PhaseClosed)
		return nil, &ConnectError{URL: c.url, Err: err}
	}

	go c.supervise(sock)
	return c, nil
}

func newConnection(accountID, token string, opts Options) (*Connection, error) {
	opts.setDefaults()
	u, err := gatewayURL(opts.URL)
	if err != nil {
		return nil, &ConnectError{URL: opts.URL, Err: err}
	}

	c := &Connection{
		accountID: accountID,
		token:     token,
		url:       u,
		opts:      opts,
		logger:    opts.Logger.With("account_id", accountID),
		metrics:   opts.Metrics,
		observer:  opts.Observer,
		seq:       NewSequence(),
		done:      make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.phase.Store(PhaseConnecting)
	return c, nil
}

// AccountID returns the account this connection belongs to.
func (c *Connection) AccountID() string { return c.accountID }

// Phase returns the current lifecycle phase.
func (c *Connection) Phase() Phase { return c.phase.Load() }

// LastSequence returns the last dispatch sequence seen, if any.
func (c *Connection) LastSequence() (int64, bool) { return c.seq.Load() }

// Done is closed once the connection has ended.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended. Valid after Done is closed.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send enqueues cmd on the live socket. It fails with ErrNotConnected while
// reconnecting and ErrClosed once the connection is closing or closed.
func (c *Connection) Send(cmd protocol.Command) error {
	c.mu.Lock()
	closing, l := c.closing, c.cur
	c.mu.Unlock()

	switch {
	case closing:
		return ErrClosed
	case l == nil:
		return ErrNotConnected
	}
	if err := l.queue.Push(cmd); err != nil {
		return ErrNotConnected
	}
	return nil
}

// Close sends Disconnect and waits for the connection to end. If ctx
// expires first the socket is closed without waiting for the writer.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	first := !c.closing
	c.closing = true
	l := c.cur
	c.mu.Unlock()

	if first {
		c.phase.Store(PhaseClosing)
		c.cancel()
		if l != nil {
			if err := l.queue.Push(protocol.Disconnect{}); err != nil {
				l.end(endReason{err: ErrClosed, final: true})
			}
		}
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		if l != nil {
			l.end(endReason{err: ErrClosed, final: true})
		}
		<-c.done
		return ctx.Err()
	}
}

// supervise runs sockets one after another until the connection ends.
func (c *Connection) supervise(sock Socket) {
	defer c.finish()

	for {
		l := c.newLink(sock)
		if !c.attach(l) {
			sock.Close()
			c.err = ErrClosed
			return
		}

		reason := l.run(c.handshake(l))
		c.detach()

		c.logger.Info("gateway socket ended",
			"error", reason.err,
			"final", reason.final,
			"established", l.established.Load(),
		)

		if reason.final || c.isClosing() || !c.opts.Reconnect {
			c.err = reason.err
			return
		}

		c.phase.Store(PhaseReconnecting)
		next, err := c.redial(l.established.Load())
		if err != nil {
			c.logger.Error("giving up on gateway", "error", err)
			c.err = err
			return
		}
		sock = next
	}
}

// handshake picks Resume when a session can be continued, else Identify.
func (c *Connection) handshake(l *link) protocol.WireCommand {
	if c.sessionID != "" {
		if n, ok := c.seq.Load(); ok {
			l.resuming = true
			return protocol.Resume{Token: c.token, SessionID: c.sessionID, Sequence: n}
		}
	}
	return protocol.Identify{Token: c.token, Properties: c.opts.Properties}
}

// redial reconnects with exponential backoff. The first attempt is
// immediate when the previous socket reached Established.
func (c *Connection) redial(wasEstablished bool) (Socket, error) {
	target := c.url
	if c.sessionID != "" && c.resumeURL != "" {
		if u, err := gatewayURL(c.resumeURL); err == nil {
			target = u
		} else {
			c.logger.Warn("ignoring bad resume url", "url", c.resumeURL, "error", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.opts.MaxReconnectElapsed

	if !wasEstablished {
		select {
		case <-time.After(b.InitialInterval):
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		}
	}

	var sock Socket
	op := func() error {
		s, err := c.opts.Dialer.Dial(c.ctx, target)
		if err != nil {
			c.metrics.reconnect("failure")
			return err
		}
		sock = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("reconnect failed, retrying", "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify); err != nil {
		return nil, &ConnectError{URL: target, Err: err}
	}
	c.metrics.reconnect("success")
	c.logger.Info("gateway reconnected", "url", target)
	return sock, nil
}

func (c *Connection) attach(l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.cur = l
	return true
}

func (c *Connection) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = nil
}

func (c *Connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Connection) finish() {
	c.mu.Lock()
	c.closing = true
	c.cur = nil
	c.mu.Unlock()

	c.cancel()
	c.phase.Store(PhaseClosed)
	close(c.done)
}

func (c *Connection) newLink(sock Socket) *link {
	l := &link{
		c:      c,
		sock:   sock,
		queue:  NewQueue(),
		logger: c.logger,
		done:   make(chan struct{}),
	}
	l.acked.Store(true)
	return l
}

// run drives the socket until all of its goroutines have exited.
func (l *link) run(handshake protocol.WireCommand) endReason {
	l.c.metrics.socketOpened()
	defer l.c.metrics.socketClosed()

	_ = l.queue.PushFront(handshake)
	l.c.phase.Store(PhaseAwaitingHello)

	if t := l.c.opts.HandshakeTimeout; t > 0 {
		timer := time.AfterFunc(t, func() {
			if !l.established.Load() {
				l.logger.Warn("handshake timed out", "timeout", t)
				l.end(endReason{err: ErrHandshakeTimeout})
			}
		})
		defer timer.Stop()
	}

	l.wg.Add(2)
	go l.readLoop()
	go l.writeLoop()
	l.wg.Wait()

	return l.reason
}

// end tears the socket down. The first reason wins.
func (l *link) end(r endReason) {
	l.endOnce.Do(func() {
		l.reason = r
		close(l.done)
		if dropped := l.queue.Close(); dropped > 0 {
			l.logger.Warn("dropped queued commands", "count", dropped)
		}
		if err := l.sock.Close(); err != nil {
			l.logger.Debug("closing socket", "error", err)
		}
	})
}

// String makes the connection readable in logs.
func (c *Connection) String() string {
	return fmt.Sprintf("gateway(%s, %s)", c.accountID, c.Phase())
}
