package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Channel is a persistent, message-oriented transport. Implementations need
// not be safe for concurrent use; the gateway serializes access.
type Channel interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	SetDeadline(t time.Time) error
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Channel, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Channel, error) { return f(ctx, url) }

// WebSocketDialer dials websocket channels.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsChannel{conn: conn}, nil
}

// NewWebSocketChannel wraps an established websocket connection.
func NewWebSocketChannel(conn *websocket.Conn) Channel {
	return &wsChannel{conn: conn}
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) WriteJSON(v any) error { return c.conn.WriteJSON(v) }

func (c *wsChannel) ReadJSON(v any) error { return c.conn.ReadJSON(v) }

func (c *wsChannel) SetDeadline(t time.Time) error {
	if err := c.conn.SetWriteDeadline(t); err != nil {
		return err
	}
	return c.conn.SetReadDeadline(t)
}

func (c *wsChannel) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
