// Package signaling owns the single persistent duplex connection between a
// voxcall client and the relay.
//
// A [Channel] dials the relay over a websocket, decodes inbound frames with
// the protocol codec and hands them to registered handlers in arrival order
// from one read goroutine per connection. Every connecting/open/closed
// transition is published to state subscribers, and whenever an established
// connection drops (or the initial dial fails) the channel schedules a
// reconnect cycle through its [Reconnector].
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/protocol"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 4 << 20
)

// Identity names the local user towards the relay.
type Identity struct {
	UserID       string
	LanguageCode string
}

// Config configures a [Channel].
type Config struct {
	// URL is the relay websocket endpoint, e.g. "wss://relay.example/ws".
	URL string

	// ReconnectDelay is the wait before each reconnect dial. Default: 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay enables doubling backoff capped at this value.
	// Zero keeps the delay fixed.
	MaxReconnectDelay time.Duration

	// MaxRetries bounds each reconnect cycle. Zero retries forever.
	MaxRetries int

	// DialTimeout bounds the websocket handshake. Default: 10s.
	DialTimeout time.Duration

	// WriteTimeout bounds a single frame write. A relay that does not take
	// a frame within it is treated as stalled and the connection is
	// dropped for the reconnector. Default: 5s.
	WriteTimeout time.Duration
}

// Option is a functional option for [New].
type Option func(*Channel)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// WithHTTPClient sets the HTTP client used for the websocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.httpClient = hc }
}

// WithReadLimit sets the maximum inbound frame size in bytes. Default: 4 MiB.
func WithReadLimit(n int64) Option {
	return func(c *Channel) { c.readLimit = n }
}

// Channel is the signaling channel to the relay. All methods are safe for
// concurrent use.
type Channel struct {
	cfg        Config
	metrics    *observe.Metrics
	httpClient *http.Client
	readLimit  int64

	ctx    context.Context
	cancel context.CancelFunc

	reconnector *Reconnector

	state atomic.Int32

	mu       sync.Mutex
	conn     *connection
	identity Identity
	closed   bool

	handlersMu    sync.RWMutex
	msgHandlers   []func(protocol.Message)
	stateHandlers []func(State)

	// notifyMu serialises state notifications so subscribers observe
	// transitions in the order they happened.
	notifyMu sync.Mutex

	closeOnce sync.Once
}

// New creates a Channel. No connection is opened until [Channel.Connect].
func New(cfg Config, opts ...Option) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:       cfg,
		readLimit: defaultReadLimit,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.reconnector = NewReconnector(ReconnectorConfig{
		Dial:       c.redial,
		Delay:      cfg.ReconnectDelay,
		MaxDelay:   cfg.MaxReconnectDelay,
		MaxRetries: cfg.MaxRetries,
		OnAttempt: func(_ int, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			c.metrics.RecordReconnectAttempt(c.ctx, status)
		},
	})
	return c
}

// OnMessage registers a handler for inbound messages. Handlers run on the
// connection's read goroutine, in arrival order, never concurrently with
// each other. A handler must not block for long.
func (c *Channel) OnMessage(fn func(protocol.Message)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.msgHandlers = append(c.msgHandlers, fn)
}

// OnStateChange registers fn to observe every connection state transition.
func (c *Channel) OnStateChange(fn func(State)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Connect opens the connection for id. On failure it returns a
// [*ConnectionError] and schedules a reconnect cycle; it never retries
// inline.
func (c *Channel) Connect(ctx context.Context, id Identity) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.State() == StateConnecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.identity = id
	c.mu.Unlock()

	c.reconnector.Monitor(c.ctx)

	if err := c.dial(ctx); err != nil {
		if !errors.Is(err, ErrClosed) {
			c.reconnector.NotifyDisconnect()
		}
		return err
	}
	return nil
}

// Send encodes msg and writes it as one text frame.
//
// ctx is only checked before the write starts. The websocket library closes
// the socket when a write's context ends mid-frame, so the write itself runs
// on the channel's context bounded by [Config.WriteTimeout]. A caller
// tearing down its own work never breaks the shared connection.
func (c *Channel) Send(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("signaling: send %s: %w", msg.Kind, err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.State() != StateOpen {
		return ErrNotConnected
	}

	b, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("signaling: send: %w", err)
	}

	wctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := conn.ws.Write(wctx, websocket.MessageText, b); err != nil {
		if c.ctx.Err() == nil {
			// Timed out or broken: the read loop sees the closed socket and
			// hands over to the reconnector.
			slog.Warn("signaling: write failed, dropping connection",
				"kind", msg.Kind,
				"timeout", c.cfg.WriteTimeout,
				"err", err,
			)
			conn.close(websocket.StatusGoingAway, "write failed")
		}
		return fmt.Errorf("signaling: send %s: %w", msg.Kind, err)
	}
	return nil
}

// Close tears the channel down and stops reconnecting. It waits for the read
// loop to exit, so it must not be called from a message or state handler.
// Safe to call multiple times.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		c.reconnector.Stop()
		c.cancel()
		if conn != nil {
			conn.close(websocket.StatusNormalClosure, "client closing")
			<-conn.done
		}
	})
	return nil
}

// redial is the reconnect dial. An already open channel counts as success.
func (c *Channel) redial(ctx context.Context) error {
	c.mu.Lock()
	open := c.conn != nil
	c.mu.Unlock()
	if open {
		return nil
	}
	return c.dial(ctx)
}

// dial opens a new connection and starts its read loop.
func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()

	u, err := relayURL(c.cfg.URL, id)
	if err != nil {
		return &ConnectionError{URL: c.cfg.URL, Err: err}
	}

	ctx, span := observe.StartSpan(ctx, "signaling.connect",
		trace.WithAttributes(attribute.String("user_id", id.UserID)),
	)
	defer span.End()

	c.setState(StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	start := time.Now()
	ws, _, err := websocket.Dial(dctx, u, &websocket.DialOptions{HTTPClient: c.httpClient})
	c.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.setState(StateClosed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return &ConnectionError{URL: c.cfg.URL, Err: err}
	}
	ws.SetReadLimit(c.readLimit)

	conn := newConnection(ws)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.close(websocket.StatusNormalClosure, "client closing")
		c.setState(StateClosed)
		return ErrClosed
	}
	if c.conn != nil {
		// A concurrent dial won; keep its connection.
		c.mu.Unlock()
		conn.close(websocket.StatusNormalClosure, "duplicate")
		c.setState(StateOpen)
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.metrics.Connected.Add(ctx, 1)
	c.setState(StateOpen)
	observe.Logger(ctx).Info("signaling: connected", "user_id", id.UserID)

	go c.readLoop(conn)
	return nil
}

// readLoop delivers inbound messages until the connection fails, then
// publishes closed and requests a reconnect unless the channel was closed.
func (c *Channel) readLoop(conn *connection) {
	defer close(conn.done)

	for {
		typ, data, err := conn.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("signaling: connection lost", "err", err, "status", websocket.CloseStatus(err))
			}
			break
		}

		ft := protocol.FrameText
		if typ == websocket.MessageBinary {
			ft = protocol.FrameBinary
		}
		msg, err := protocol.Decode(ft, data)
		if err != nil {
			slog.Warn("signaling: dropping malformed message", "err", err)
			c.metrics.MalformedMessages.Add(c.ctx, 1)
			continue
		}
		c.dispatch(msg)
	}

	conn.close(websocket.StatusNormalClosure, "")

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	c.metrics.Connected.Add(context.Background(), -1)
	c.setState(StateClosed)
	if !closed {
		c.reconnector.NotifyDisconnect()
	}
}

func (c *Channel) dispatch(msg protocol.Message) {
	c.handlersMu.RLock()
	handlers := c.msgHandlers
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// setState records s and notifies subscribers when it differs from the
// previous state.
func (c *Channel) setState(s State) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if State(c.state.Swap(int32(s))) == s {
		return
	}
	slog.Debug("signaling: state changed", "state", s)

	c.handlersMu.RLock()
	handlers := c.stateHandlers
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

// relayURL appends the identity query parameters to base.
func relayURL(base string, id Identity) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", id.UserID)
	q.Set("language_code", id.LanguageCode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connection wraps one websocket. It is never reused after it closes.
type connection struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{ws: ws, done: make(chan struct{})}
}

func (cn *connection) close(code websocket.StatusCode, reason string) {
	cn.closeOnce.Do(func() {
		_ = cn.ws.Close(code, reason)
	})
}
