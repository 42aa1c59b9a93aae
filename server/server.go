package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/bcgov/nr-ai-form/a2a"
	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/engine"
	"github.com/bcgov/nr-ai-form/logging"
)

// ServiceName is reported by the orchestrator's health endpoint.
const ServiceName = "OrchestratorAgent"

// StepParam is the routing parameter an invoke or /ws request may override.
const StepParam = "step_number"

// DefaultMetricsPath is where metrics are served unless Options.MetricsPath says otherwise.
const DefaultMetricsPath = "/metrics"

// Runner executes one workflow run.
type Runner interface {
	Run(ctx context.Context, req core.Request) (*engine.Output, error)
}

// Options configure the HTTP handlers.
type Options struct {
	// Manifest is served at the discovery path.
	Manifest a2a.Manifest
	Logger   logging.Logger
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
	Upgrader     websocket.Upgrader
}

func defaultOptions() Options {
	return Options{
		Logger:       logging.NoOpLogger{},
		MaxBodyBytes: 1 << 20,
		MetricsPath:  DefaultMetricsPath,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func mountMetrics(r chi.Router, opts Options) {
	if opts.Metrics == nil {
		return
	}
	path := opts.MetricsPath
	if path == "" {
		path = DefaultMetricsPath
	}
	r.Method(http.MethodGet, path, opts.Metrics)
}

type orchestrator struct {
	runner Runner
	opts   Options
}

// NewHandler builds the orchestrator's router.
func NewHandler(runner Runner, optFns ...func(o *Options)) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Manifest.Identity == nil {
		opts.Manifest = a2a.NewManifest(ServiceName, "Routes a query to every skill agent and combines their answers.", "")
	}
	s := &orchestrator{runner: runner, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(opts.Logger))

	r.Get("/", s.index)
	r.Get(a2a.DefaultDiscoveryPath, a2a.ManifestHandler(s.opts.Manifest))
	r.Get(a2a.DefaultHealthPath, s.health)
	r.Post(a2a.DefaultInvokePath, s.invoke)
	r.Get("/ws", s.ws)
	mountMetrics(r, opts)
	return r
}

func (s *orchestrator) index(w http.ResponseWriter, _ *http.Request) {
	endpoints := map[string]string{
		"manifest": a2a.DefaultDiscoveryPath,
		"health":   a2a.DefaultHealthPath,
		"invoke":   a2a.DefaultInvokePath,
		"ws":       "/ws",
	}
	if s.opts.Metrics != nil {
		endpoints["metrics"] = s.opts.MetricsPath
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": ServiceName, "endpoints": endpoints})
}

func (s *orchestrator) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": ServiceName})
}

func (s *orchestrator) invoke(w http.ResponseWriter, r *http.Request) {
	var msg invokeRequest
	if err := decodeBody(w, r, s.opts.MaxBodyBytes, &msg); err != nil {
		s.opts.Logger.Warn("Invoke: invalid request body", "error", err)
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.run(r.Context(), msg.request())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// run executes req and renders the wire response.
func (s *orchestrator) run(ctx context.Context, req core.Request) (core.InvokeResponse, error) {
	out, err := s.runner.Run(ctx, req)
	if err != nil {
		if !core.IsValidation(err) {
			s.opts.Logger.Error("Workflow run failed", "session_id", req.SessionID, "error", err)
		}
		return core.InvokeResponse{}, err
	}
	body, err := json.Marshal(out.Result)
	if err != nil {
		return core.InvokeResponse{}, fmt.Errorf("encoding result: %w", err)
	}
	return core.InvokeResponse{Response: body, SessionID: out.SessionID}, nil
}

// invokeRequest is the body of /invoke and of each /ws message. A top-level
// step_number overrides that routing parameter for this request only.
type invokeRequest struct {
	core.Request
	StepNumber string `json:"step_number,omitempty"`
}

func (m invokeRequest) request() core.Request {
	req := m.Request
	if m.StepNumber == "" {
		return req
	}
	params := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	params[StepParam] = m.StepNumber
	req.Params = params
	return req
}

// ws serves a persistent channel: read one request, run it, write exactly
// one response, repeat until the peer goes away.
func (s *orchestrator) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := s.opts.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.MaxBodyBytes)
	s.opts.Logger.Debug("WebSocket channel opened", "remote", r.RemoteAddr)

	for {
		var msg invokeRequest
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.opts.Logger.Warn("WebSocket read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		req := msg.request()
		resp, err := s.run(r.Context(), req)
		if err != nil {
			_, detail := statusFor(err)
			resp = core.InvokeResponse{SessionID: req.SessionID, Error: detail}
		}
		if err := conn.WriteJSON(resp); err != nil {
			s.opts.Logger.Warn("WebSocket write failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// requestLogger logs one line per request.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

// ListenAndServe runs handler on addr until ctx is done, then shuts down
// gracefully within shutdownTimeout.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger logging.Logger) error {
	logger = logging.OrNoOp(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
