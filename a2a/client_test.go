package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type skillServer struct {
	*httptest.Server
	manifestHits atomic.Int32
	lastBody     map[string]any
	mu           sync.Mutex
}

func newSkillServer(t *testing.T, manifest any, invoke http.HandlerFunc) *skillServer {
	t.Helper()
	s := &skillServer{}
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultDiscoveryPath, func(w http.ResponseWriter, r *http.Request) {
		s.manifestHits.Add(1)
		if manifest == nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(manifest)
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.lastBody = body
		s.mu.Unlock()
		invoke(w, r)
	}
	mux.HandleFunc("/invoke", record)
	mux.HandleFunc("/custom-invoke", record)
	mux.HandleFunc(DefaultHealthPath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func respond(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func validManifest(invokePath string) map[string]any {
	return map[string]any{
		"identity": map[string]any{"name": "FormSupportAgent", "description": "form help"},
		"interaction": map[string]any{
			"endpoints": map[string]any{"invoke": map[string]any{"url": invokePath}},
		},
		"capabilities": []any{"forms"},
	}
}

func TestClient_GetManifestCachesAndDefaults(t *testing.T) {
	srv := newSkillServer(t, validManifest("/custom-invoke"), respond(map[string]any{"response": "ok"}))
	c := NewClient(srv.URL)

	m1, err := c.GetManifest(context.Background())
	require.NoError(t, err)
	m2, err := c.GetManifest(context.Background())
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Equal(t, int32(1), srv.manifestHits.Load())
	assert.Equal(t, "FormSupportAgent", m1.Identity.Name)
	assert.Equal(t, "Unknown", m1.Identity.Author)
	assert.Equal(t, "1.0.0", m1.Identity.Version)
	assert.Equal(t, srv.URL, m1.Interaction.BaseURL)
	assert.Equal(t, "/custom-invoke", m1.InvokePath())
}

func TestClient_GetManifestMissingIdentity(t *testing.T) {
	srv := newSkillServer(t, map[string]any{"capabilities": []any{}}, respond(map[string]any{"response": "ok"}))
	c := NewClient(srv.URL)

	_, err := c.GetManifest(context.Background())
	var de *core.DiscoveryError
	require.ErrorAs(t, err, &de)

	_, err = c.GetManifest(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), srv.manifestHits.Load(), "failed discovery must not be cached")
}

func TestClient_InvokeUsesManifestPathAndParams(t *testing.T) {
	srv := newSkillServer(t, validManifest("/custom-invoke"), respond(map[string]any{"response": "answer"}))
	c := NewClient(srv.URL)

	p, err := c.Invoke(context.Background(), "water permit?", "sess-1", map[string]any{"step_number": "step2-Eligibility"})
	require.NoError(t, err)
	assert.Equal(t, core.PayloadText, p.Kind())
	assert.Equal(t, "answer", p.Text)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "water permit?", srv.lastBody["query"])
	assert.Equal(t, "sess-1", srv.lastBody["session_id"])
	assert.Equal(t, "step2-Eligibility", srv.lastBody["step_number"])
}

func TestClient_InvokeFallsBackWhenDiscoveryFails(t *testing.T) {
	srv := newSkillServer(t, nil, respond(map[string]any{"response": map[string]any{"type": "info", "value": "step2 applies"}}))
	c := NewClient(srv.URL)

	p, err := c.Invoke(context.Background(), "q", "", nil)
	require.NoError(t, err)
	s, ok := p.Suggestion()
	require.True(t, ok)
	assert.Equal(t, "step2 applies", s.Value)
}

func TestClient_InvokeErrors(t *testing.T) {
	t.Run("non-success status", func(t *testing.T) {
		srv := newSkillServer(t, validManifest("/invoke"), func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "backend exploded", http.StatusBadGateway)
		})
		_, err := NewClient(srv.URL).Invoke(context.Background(), "q", "", nil)
		var ie *core.InvocationError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, http.StatusBadGateway, ie.StatusCode)
		assert.Contains(t, ie.Error(), "backend exploded")
	})

	t.Run("missing response field", func(t *testing.T) {
		srv := newSkillServer(t, validManifest("/invoke"), respond(map[string]any{"answer": "x"}))
		_, err := NewClient(srv.URL).Invoke(context.Background(), "q", "", nil)
		var ie *core.InvocationError
		require.ErrorAs(t, err, &ie)
		assert.Contains(t, ie.Error(), "response field missing")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := newSkillServer(t, validManifest("/invoke"), func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		c := NewClient(srv.URL, func(o *Options) { o.Timeout = 50 * time.Millisecond })
		_, err := c.Invoke(context.Background(), "q", "", nil)
		var ie *core.InvocationError
		require.ErrorAs(t, err, &ie)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := NewClient(url).Invoke(context.Background(), "q", "", nil)
		var ie *core.InvocationError
		require.ErrorAs(t, err, &ie)
		assert.Zero(t, ie.StatusCode)
	})
}

func TestClient_Health(t *testing.T) {
	srv := newSkillServer(t, validManifest("/invoke"), respond(map[string]any{"response": "ok"}))
	h := NewClient(srv.URL).Health(context.Background())
	assert.True(t, h.Healthy)
	assert.Equal(t, "healthy", h.Status)

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	h = NewClient(url).Health(context.Background())
	assert.False(t, h.Healthy)
	assert.Equal(t, "unreachable", h.Status)
}

func TestManifestHandler_FillsBaseURLFromHost(t *testing.T) {
	srv := httptest.NewServer(ManifestHandler(NewManifest("FormSupportAgent", "forms", "")))
	defer srv.Close()

	m, err := NewClient(srv.URL).GetManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FormSupportAgent", m.Identity.Name)
	assert.Equal(t, srv.URL, m.Interaction.BaseURL)
	assert.Equal(t, DefaultInvokePath, m.InvokePath())
}

func TestClient_GetManifestDefaultsMissingName(t *testing.T) {
	srv := newSkillServer(t, map[string]any{
		"identity":     map[string]any{"description": "d"},
		"capabilities": []any{},
	}, respond(map[string]any{"response": "ok"}))

	m, err := NewClient(srv.URL).GetManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Unknown", m.Identity.Name)
	assert.Equal(t, "d", m.Identity.Description)
	assert.Equal(t, DefaultInvokePath, m.InvokePath())
}

func TestClient_GetManifestRejectsNonObjectIdentity(t *testing.T) {
	srv := newSkillServer(t, map[string]any{"identity": "FormSupportAgent"}, respond(map[string]any{"response": "ok"}))

	_, err := NewClient(srv.URL).GetManifest(context.Background())
	var de *core.DiscoveryError
	require.ErrorAs(t, err, &de)
}

func TestClient_SlowDiscoveryDoesNotHoldOtherCallers(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultDiscoveryPath, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(validManifest("/invoke"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL)

	first := make(chan error, 1)
	go func() {
		_, err := c.GetManifest(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.GetManifest(ctx)
	elapsed := time.Since(start)

	var de *core.DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)

	release <- struct{}{}
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), hits.Load(), "callers share one discovery fetch")

	m, err := c.GetManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FormSupportAgent", m.Identity.Name)
}
