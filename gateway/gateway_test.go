package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcgov/nr-ai-form/core"
)

type echoServer struct {
	*httptest.Server
	accepted atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newEchoServer(t *testing.T, delay time.Duration) *echoServer {
	t.Helper()
	s := &echoServer{delay: delay}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		defer conn.Close()
		for {
			var req core.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			n := s.inFlight.Add(1)
			if n > s.maxSeen.Load() {
				s.maxSeen.Store(n)
			}
			time.Sleep(s.delay)
			resp, _ := json.Marshal("echo: " + req.Query)
			s.inFlight.Add(-1)
			if err := conn.WriteJSON(core.InvokeResponse{Response: resp, SessionID: req.SessionID}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// dropAll closes every server-side connection.
func (s *echoServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func TestGateway_ReusesOpenChannel(t *testing.T) {
	srv := newEchoServer(t, 0)
	gw := New(srv.wsURL())
	defer gw.Close()
	ctx := context.Background()

	c1, err := gw.GetOrCreateConnection(ctx, "s1")
	require.NoError(t, err)
	resp, err := gw.InvokeViaChannel(ctx, c1, core.Request{Query: "one", SessionID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `"echo: one"`, string(resp.Response))

	c2, err := gw.GetOrCreateConnection(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	_, err = gw.InvokeViaChannel(ctx, c2, core.Request{Query: "two", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), srv.accepted.Load())
	assert.Equal(t, 1, gw.ActiveConnections())
}

func TestGateway_ReconnectsAfterForcedClose(t *testing.T) {
	srv := newEchoServer(t, 0)
	gw := New(srv.wsURL())
	defer gw.Close()
	ctx := context.Background()

	_, err := gw.Invoke(ctx, core.Request{Query: "one", SessionID: "s1"})
	require.NoError(t, err)

	c, err := gw.GetOrCreateConnection(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())

	resp, err := gw.Invoke(ctx, core.Request{Query: "two", SessionID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `"echo: two"`, string(resp.Response))
	assert.Equal(t, int32(2), srv.accepted.Load())

	c2, err := gw.GetOrCreateConnection(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, c2.ID)
}

func TestGateway_ServerDropSurfacesRetryableError(t *testing.T) {
	srv := newEchoServer(t, 0)
	var counts []int
	gw := New(srv.wsURL(), func(o *Options) {
		o.OnConnectionsChanged = func(n int) { counts = append(counts, n) }
	})
	defer gw.Close()
	ctx := context.Background()

	_, err := gw.Invoke(ctx, core.Request{Query: "one", SessionID: "s1"})
	require.NoError(t, err)
	srv.dropAll()

	_, err = gw.Invoke(ctx, core.Request{Query: "two", SessionID: "s1"})
	var cerr *core.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, "s1", cerr.SessionID)
	assert.Equal(t, 0, gw.ActiveConnections())

	resp, err := gw.Invoke(ctx, core.Request{Query: "three", SessionID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `"echo: three"`, string(resp.Response))
	assert.Equal(t, []int{1, 0, 1}, counts)
}

func TestGateway_SerializesRequestsPerChannel(t *testing.T) {
	srv := newEchoServer(t, 20*time.Millisecond)
	gw := New(srv.wsURL())
	defer gw.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.Invoke(context.Background(), core.Request{Query: "q", SessionID: "s1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), srv.maxSeen.Load())
	assert.Equal(t, 1, gw.ActiveConnections())
}

func TestGateway_SeparateSessionsGetSeparateChannels(t *testing.T) {
	srv := newEchoServer(t, 0)
	gw := New(srv.wsURL())
	defer gw.Close()
	ctx := context.Background()

	_, err := gw.Invoke(ctx, core.Request{Query: "a", SessionID: "s1"})
	require.NoError(t, err)
	_, err = gw.Invoke(ctx, core.Request{Query: "b", SessionID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, gw.ActiveConnections())
}

func TestGateway_InvokeGeneratesSessionID(t *testing.T) {
	srv := newEchoServer(t, 0)
	gw := New(srv.wsURL())
	defer gw.Close()

	resp, err := gw.Invoke(context.Background(), core.Request{Query: "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
}

func TestGateway_DialFailure(t *testing.T) {
	gw := New("ws://unused", func(o *Options) {
		o.Dialer = DialerFunc(func(context.Context, string) (Channel, error) {
			return nil, errors.New("connection refused")
		})
	})
	defer gw.Close()

	_, err := gw.Invoke(context.Background(), core.Request{Query: "a", SessionID: "s1"})
	var cerr *core.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 0, gw.ActiveConnections())
}

func TestGateway_Close(t *testing.T) {
	srv := newEchoServer(t, 0)
	gw := New(srv.wsURL())
	ctx := context.Background()

	c1, err := gw.GetOrCreateConnection(ctx, "s1")
	require.NoError(t, err)
	c2, err := gw.GetOrCreateConnection(ctx, "s2")
	require.NoError(t, err)

	require.NoError(t, gw.Close())
	assert.Equal(t, 0, gw.ActiveConnections())
	assert.Equal(t, StateClosed, c1.State())
	assert.Equal(t, StateClosed, c2.State())

	_, err = gw.GetOrCreateConnection(ctx, "s1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, gw.Close())
}

func TestGateway_ContextCancelUnblocksRead(t *testing.T) {
	srv := newEchoServer(t, 2*time.Second)
	gw := New(srv.wsURL())
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := gw.Invoke(ctx, core.Request{Query: "slow", SessionID: "s1"})
	var cerr *core.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Less(t, time.Since(start), time.Second)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
}
