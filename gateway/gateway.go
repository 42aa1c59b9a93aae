package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

var (
	// ErrClosed is returned once the gateway has shut down.
	ErrClosed = errors.New("gateway: closed")
	// ErrChannelClosed is returned for a request on a connection that has
	// already been torn down.
	ErrChannelClosed = errors.New("gateway: channel closed")
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Connection is the gateway's handle on one session's channel.
type Connection struct {
	SessionID string
	ID        uint64
	CreatedAt time.Time

	ch    Channel
	state atomic.Int32
	// mu keeps one request in flight per channel.
	mu        sync.Mutex
	closeOnce sync.Once
}

// State returns the current state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Close tears the channel down. The gateway drops it on next lookup.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		err = c.ch.Close()
	})
	return err
}

// Options configure a Gateway.
type Options struct {
	Dialer Dialer
	// RequestTimeout bounds one round trip when the context has no deadline.
	RequestTimeout time.Duration
	Logger         logging.Logger
	// OnConnectionsChanged receives the live connection count after every
	// change.
	OnConnectionsChanged func(n int)
}

// Gateway owns the session to connection map.
type Gateway struct {
	url    string
	opts   Options
	nextID atomic.Uint64

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
}

// New creates a gateway dialing url.
func New(url string, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Dialer:         WebSocketDialer{},
		RequestTimeout: 120 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Gateway{url: url, opts: opts, conns: make(map[string]*Connection)}
}

// URL returns the endpoint channels are opened to.
func (g *Gateway) URL() string { return g.url }

// ActiveConnections returns the number of cached connections.
func (g *Gateway) ActiveConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// GetOrCreateConnection returns the session's open connection, replacing a
// closed one and dialing when none is cached. Dialing happens outside the
// map lock.
func (g *Gateway) GetOrCreateConnection(ctx context.Context, sessionID string) (*Connection, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := g.conns[sessionID]; ok {
		if c.State() == StateOpen {
			g.mu.Unlock()
			return c, nil
		}
		delete(g.conns, sessionID)
		g.opts.Logger.Debug("Evicting closed connection", "session_id", sessionID, "conn_id", c.ID)
	}
	g.mu.Unlock()

	ch, err := g.opts.Dialer.Dial(ctx, g.url)
	if err != nil {
		g.opts.Logger.Warn("Failed to open channel", "session_id", sessionID, "url", g.url, "error", err)
		return nil, &core.ConnectionError{SessionID: sessionID, Err: err}
	}
	c := &Connection{SessionID: sessionID, ID: g.nextID.Add(1), CreatedAt: time.Now(), ch: ch}
	c.state.Store(int32(StateOpen))

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = c.Close()
		return nil, ErrClosed
	}
	if existing, ok := g.conns[sessionID]; ok && existing.State() == StateOpen {
		g.mu.Unlock()
		_ = c.Close()
		return existing, nil
	}
	g.conns[sessionID] = c
	n := len(g.conns)
	g.mu.Unlock()

	g.opts.Logger.Info("Opened channel", "session_id", sessionID, "conn_id", c.ID)
	g.notify(n)
	return c, nil
}

// InvokeViaChannel sends one request and waits for its one response. Any
// transport failure evicts the connection and returns a retryable
// *core.ConnectionError.
func (g *Gateway) InvokeViaChannel(ctx context.Context, c *Connection, req core.Request) (core.InvokeResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateOpen {
		g.evict(c)
		return core.InvokeResponse{}, &core.ConnectionError{SessionID: c.SessionID, Err: ErrChannelClosed}
	}

	deadline, ok := ctx.Deadline()
	if !ok && g.opts.RequestTimeout > 0 {
		deadline = time.Now().Add(g.opts.RequestTimeout)
	}
	fail := func(op string, err error) (core.InvokeResponse, error) {
		g.opts.Logger.Warn("Channel failed, evicting", "session_id", c.SessionID, "conn_id", c.ID, "op", op, "error", err)
		g.evict(c)
		return core.InvokeResponse{}, &core.ConnectionError{SessionID: c.SessionID, Err: fmt.Errorf("%s: %w", op, err)}
	}

	if err := c.ch.SetDeadline(deadline); err != nil {
		return fail("deadline", err)
	}

	// Unblock the read if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = c.ch.SetDeadline(time.Now()) })
	defer stop()

	if err := c.ch.WriteJSON(req); err != nil {
		return fail("send", err)
	}
	var resp core.InvokeResponse
	if err := c.ch.ReadJSON(&resp); err != nil {
		if ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
		}
		return fail("receive", err)
	}
	if resp.SessionID == "" {
		resp.SessionID = c.SessionID
	}
	return resp, nil
}

// Invoke routes req over its session's channel, generating a session id
// when req has none.
func (g *Gateway) Invoke(ctx context.Context, req core.Request) (core.InvokeResponse, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	c, err := g.GetOrCreateConnection(ctx, req.SessionID)
	if err != nil {
		return core.InvokeResponse{}, err
	}
	return g.InvokeViaChannel(ctx, c, req)
}

// evict drops c from the map if it is still the cached connection for its
// session, then closes it.
func (g *Gateway) evict(c *Connection) {
	g.mu.Lock()
	removed := false
	if cur, ok := g.conns[c.SessionID]; ok && cur == c {
		delete(g.conns, c.SessionID)
		removed = true
	}
	n := len(g.conns)
	g.mu.Unlock()

	_ = c.Close()
	if removed {
		g.notify(n)
	}
}

// Close shuts every channel and empties the map. Individual close errors
// are logged. Later calls fail with ErrClosed.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	conns := g.conns
	g.conns = make(map[string]*Connection)
	g.mu.Unlock()

	for sid, c := range conns {
		if err := c.Close(); err != nil {
			g.opts.Logger.Warn("Error closing channel", "session_id", sid, "conn_id", c.ID, "error", err)
		}
	}
	g.opts.Logger.Info("Gateway closed", "connections", len(conns))
	g.notify(0)
	return nil
}

func (g *Gateway) notify(n int) {
	if g.opts.OnConnectionsChanged != nil {
		g.opts.OnConnectionsChanged(n)
	}
}
