package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// SkillCall is one request received by a SkillServer.
type SkillCall struct {
	Query     string
	SessionID string
	Params    map[string]any
}

// SkillHandler answers a call. The returned value becomes the "response"
// field; a non-zero status short-circuits with that HTTP status instead.
type SkillHandler func(call SkillCall) (response any, status int)

// SkillServer is a fake skill agent speaking the discovery, invoke and
// health endpoints.
//
//	srv := testutil.NewSkillServer(t, "FormSupportAgent", testutil.Reply("step2 applies"))
//	client := a2a.NewClient(srv.URL)
type SkillServer struct {
	*httptest.Server
	Name string

	mu    sync.Mutex
	calls []SkillCall
}

// NewSkillServer starts a skill server that is closed with the test.
func NewSkillServer(t testing.TB, name string, h SkillHandler) *SkillServer {
	t.Helper()
	s := &SkillServer{Name: name}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/agent.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"identity": map[string]any{"name": name, "description": "test skill"},
			"interaction": map[string]any{
				"baseUrl":   s.URL,
				"endpoints": map[string]any{"invoke": map[string]any{"url": "/invoke"}},
			},
			"capabilities": []any{},
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})
	mux.HandleFunc("POST /invoke", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
			return
		}
		call := SkillCall{Params: map[string]any{}}
		for k, v := range body {
			switch k {
			case "query":
				call.Query, _ = v.(string)
			case "session_id":
				call.SessionID, _ = v.(string)
			default:
				call.Params[k] = v
			}
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()

		resp, status := h(call)
		if status != 0 {
			writeJSON(w, status, map[string]any{"detail": resp})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"response": resp, "session_id": call.SessionID})
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Calls returns a copy of the invoke calls received so far.
func (s *SkillServer) Calls() []SkillCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SkillCall(nil), s.calls...)
}

// Reply answers every call with the same response.
func Reply(response any) SkillHandler {
	return func(SkillCall) (any, int) { return response, 0 }
}

// Fail answers every call with status and detail.
func Fail(status int, detail string) SkillHandler {
	return func(SkillCall) (any, int) { return detail, status }
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
