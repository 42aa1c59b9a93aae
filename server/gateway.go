package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bcgov/nr-ai-form/a2a"
	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

// GatewayServiceName is reported by the gateway's health endpoint.
const GatewayServiceName = "OrchestratorGateway"

// GatewayInvoker proxies requests over persistent channels.
type GatewayInvoker interface {
	Invoke(ctx context.Context, req core.Request) (core.InvokeResponse, error)
	ActiveConnections() int
}

type gatewayServer struct {
	gw   GatewayInvoker
	opts Options
}

// NewGatewayHandler builds the gateway's router.
func NewGatewayHandler(gw GatewayInvoker, optFns ...func(o *Options)) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	s := &gatewayServer{gw: gw, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(opts.Logger))

	r.Get("/", s.index)
	r.Get(a2a.DefaultHealthPath, s.health)
	r.Post("/invoke-via-gateway", s.invoke)
	mountMetrics(r, opts)
	return r
}

func (s *gatewayServer) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": GatewayServiceName,
		"endpoints": map[string]string{
			"health": a2a.DefaultHealthPath,
			"invoke": "/invoke-via-gateway",
		},
	})
}

func (s *gatewayServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"service":            GatewayServiceName,
		"active_connections": s.gw.ActiveConnections(),
	})
}

func (s *gatewayServer) invoke(w http.ResponseWriter, r *http.Request) {
	var req core.Request
	if err := decodeBody(w, r, s.opts.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.gw.Invoke(r.Context(), req)
	if err != nil {
		s.opts.Logger.Warn("Gateway invoke failed", "session_id", req.SessionID, "error", err)
		writeError(w, err)
		return
	}
	if resp.Error != "" {
		writeDetail(w, http.StatusInternalServerError, resp.Error)
		return
	}
	writeJSON(w, http.StatusOK, core.InvokeResponse{Response: resp.Response, SessionID: resp.SessionID})
}
