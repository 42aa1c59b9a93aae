// Package nraiform wires the orchestrator from configuration. Most
// applications interact with this package by:
//  1. Loading a config.Config (config.Load or config.FromEnv)
//  2. Creating an Orchestrator via New
//  3. Serving Handler, or calling Run directly
//
// The gateway process is built the same way with NewGatewayServer.
// Everything here is assembly; the behaviour lives in the agent, engine,
// session and gateway packages.
package nraiform

import (
	"context"
	"fmt"
	"net/http"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bcgov/nr-ai-form/a2a"
	"github.com/bcgov/nr-ai-form/agent"
	"github.com/bcgov/nr-ai-form/config"
	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/engine"
	"github.com/bcgov/nr-ai-form/gateway"
	"github.com/bcgov/nr-ai-form/logging"
	"github.com/bcgov/nr-ai-form/metrics"
	"github.com/bcgov/nr-ai-form/model"
	"github.com/bcgov/nr-ai-form/model/anthropic"
	"github.com/bcgov/nr-ai-form/model/openai"
	"github.com/bcgov/nr-ai-form/server"
	"github.com/bcgov/nr-ai-form/session"
)

// Options override pieces New would otherwise build from config.
type Options struct {
	Logger logging.Logger
	// Registry receives the Prometheus collectors. Defaults to a fresh one.
	Registry *prometheus.Registry
	// HTTPClient is used for every skill call.
	HTTPClient *http.Client
	// Model replaces the configured synthesis provider.
	Model model.Model
	// SessionStore replaces the configured backend.
	SessionStore core.SessionStore
}

// Orchestrator is the assembled workflow: branches, aggregation, session
// store and engine.
type Orchestrator struct {
	cfg     *config.Config
	engine  *engine.Engine
	clients map[string]*a2a.Client
	metrics *metrics.Metrics
	logger  logging.Logger
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LoggingConfig) (*logging.ContextLogger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewSlogLogger(level, cfg.Format, cfg.AddSource), nil
}

// New assembles an Orchestrator from cfg.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Orchestrator, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		l, err := NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		opts.Logger = l.WithComponent("orchestrator")
	}
	logger := opts.Logger
	m := metrics.New(opts.Registry)

	o := &Orchestrator{cfg: cfg, clients: make(map[string]*a2a.Client), metrics: m, logger: logger}

	branches := make([]agent.Branch, 0, len(cfg.Branches))
	for _, b := range cfg.Branches {
		client := a2a.NewClient(b.URL, func(co *a2a.Options) {
			co.Logger = logger
			if b.Timeout > 0 {
				co.Timeout = b.Timeout
			}
			if opts.HTTPClient != nil {
				co.HTTPClient = opts.HTTPClient
			}
		})
		o.clients[b.Name] = client
		branches = append(branches, agent.NewBranchExecutor(b.Name, client, func(bo *agent.BranchOptions) {
			if b.DisplayName != "" {
				bo.DisplayName = b.DisplayName
			}
			bo.Params = b.Params
			bo.Retries = b.Retries
			bo.Logger = logger
			bo.Observer = m.ObserveBranch
		}))
	}

	fanout := agent.NewParallelAgent("Fanout", cfg.Workflow.BranchTimeout, branches...)
	fanout.SetLogger(logger)
	dispatcher := agent.NewDispatcher(fanout, func(do *agent.DispatcherOptions) {
		do.MaxQueryLength = cfg.Workflow.MaxQueryLength
		do.Logger = logger
	})

	synth, err := newSynthesizer(cfg.Synthesis, opts.Model, logger)
	if err != nil {
		return nil, err
	}
	aggregator := agent.NewAggregator(func(ao *agent.AggregatorOptions) {
		ao.Policy = PolicyFromConfig(cfg)
		if synth != nil {
			ao.Synthesizer = synth
		}
		ao.Logger = logger
		ao.OnSynthesisFailure = m.ObserveSynthesisFailure
	})

	store := opts.SessionStore
	if store == nil {
		s, err := session.Open(ctx, SessionConfig(cfg.Session), func(so *session.StoreOptions) {
			so.Logger = logger
			so.Observer = m.ObserveSession
		})
		if err != nil {
			return nil, err
		}
		store = s
	}

	o.engine = engine.New(dispatcher, aggregator, func(eo *engine.Options) {
		eo.Config = engine.Config{
			MaxConcurrentRuns: cfg.Workflow.MaxConcurrentRuns,
			MaxTurns:          cfg.Workflow.MaxTurns,
		}
		eo.SessionStore = store
		eo.Logger = logger
		eo.Hooks = []engine.Hook{engine.LoggingHook(logger), m.RunHook()}
	})

	logger.Info("Orchestrator assembled",
		"branches", len(branches),
		"session_backend", cfg.Session.Backend,
		"synthesis", cfg.Synthesis.Provider)
	return o, nil
}

// PolicyFromConfig maps the configured rule table onto agent.Policy.
func PolicyFromConfig(cfg *config.Config) agent.Policy {
	p := agent.DefaultPolicy()
	for _, r := range cfg.Policy.Denylist {
		p.Denylist = append(p.Denylist, agent.DenyRule{Name: r.Name, Phrases: r.Phrases})
	}
	if cfg.Policy.NotSupportedMessage != "" {
		p.NotSupportedMessage = cfg.Policy.NotSupportedMessage
	}
	if len(cfg.Policy.NotFoundSentinels) > 0 {
		p.NotFoundSentinels = cfg.Policy.NotFoundSentinels
	}
	if name := cfg.BranchByRole(config.RoleGeneral); name != "" {
		p.GeneralBranch = name
	}
	if name := cfg.BranchByRole(config.RoleSpecialized); name != "" {
		p.SpecializedBranch = name
	}
	return p
}

// SessionConfig maps the configured backend onto session.Config.
func SessionConfig(c config.SessionConfig) session.Config {
	return session.Config{
		Backend: core.BackendKind(c.Backend),
		TTL:     c.TTL,
		Redis: session.RedisConfig{
			Host:     c.Redis.Host,
			Port:     c.Redis.Port,
			Password: c.Redis.Password,
			SSL:      c.Redis.SSL,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		},
		Document: session.DocumentConfig{
			Path:       c.Document.Path,
			Database:   c.Document.Database,
			Collection: c.Document.Collection,
		},
	}
}

func newSynthesizer(cfg config.SynthesisConfig, override model.Model, logger logging.Logger) (agent.Synthesizer, error) {
	m := override
	if m == nil {
		switch cfg.Provider {
		case "", "none":
			return nil, nil
		case "openai":
			m = openai.NewModel(func(o *openai.Options) {
				o.APIKey = cfg.APIKey
				o.BaseURL = cfg.BaseURL
				if cfg.Model != "" {
					o.Model = cfg.Model
				}
			})
		case "anthropic":
			m = anthropic.NewModel(func(o *anthropic.Options) {
				o.APIKey = cfg.APIKey
				o.BaseURL = cfg.BaseURL
				if cfg.Model != "" {
					o.Model = anthropicsdk.Model(cfg.Model)
				}
			})
		default:
			return nil, fmt.Errorf("unknown synthesis provider %q", cfg.Provider)
		}
	}
	return agent.NewLLMSynthesizer(m, func(o *agent.SynthesizerOptions) {
		if cfg.Instructions != "" {
			o.Instructions = cfg.Instructions
		}
		o.Stream = cfg.Stream
		o.Logger = logger
	}), nil
}

// Run executes one workflow run.
func (o *Orchestrator) Run(ctx context.Context, req core.Request) (*engine.Output, error) {
	return o.engine.Run(ctx, req)
}

// Engine returns the underlying engine.
func (o *Orchestrator) Engine() *engine.Engine { return o.engine }

// Metrics returns the collectors.
func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }

// Manifest is the document the orchestrator advertises about itself.
func (o *Orchestrator) Manifest() a2a.Manifest {
	return a2a.NewManifest(server.ServiceName,
		"Routes a query to every skill agent and combines their answers.",
		o.cfg.Server.PublicURL,
		map[string]any{"name": "orchestrate", "branches": len(o.cfg.Branches)})
}

// Handler returns the orchestrator's HTTP surface.
func (o *Orchestrator) Handler() http.Handler {
	return server.NewHandler(o.engine, func(so *server.Options) {
		so.Manifest = o.Manifest()
		so.Logger = o.logger
		if o.cfg.Metrics.Enabled {
			so.Metrics = o.metrics.Handler()
			so.MetricsPath = o.cfg.Metrics.Path
		}
	})
}

// CheckBranches checks every skill's health endpoint.
func (o *Orchestrator) CheckBranches(ctx context.Context) map[string]a2a.HealthStatus {
	out := make(map[string]a2a.HealthStatus, len(o.clients))
	for name, c := range o.clients {
		out[name] = c.Health(ctx)
	}
	return out
}

// Close releases the session store.
func (o *Orchestrator) Close() error {
	return o.engine.Close()
}

// GatewayServer is the assembled connection gateway and its HTTP front.
type GatewayServer struct {
	Gateway *gateway.Gateway
	Metrics *metrics.Metrics
	handler http.Handler
}

// NewGatewayServer assembles the gateway from cfg.
func NewGatewayServer(cfg *config.Config, optFns ...func(o *Options)) (*GatewayServer, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		l, err := NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		opts.Logger = l.WithComponent("gateway")
	}
	m := metrics.New(opts.Registry)

	gw := gateway.New(cfg.Gateway.AgentServerURL, func(o *gateway.Options) {
		if cfg.Gateway.RequestTimeout > 0 {
			o.RequestTimeout = cfg.Gateway.RequestTimeout
		}
		o.Logger = opts.Logger
		o.OnConnectionsChanged = m.SetGatewayConnections
	})
	h := server.NewGatewayHandler(gw, func(so *server.Options) {
		so.Logger = opts.Logger
		if cfg.Metrics.Enabled {
			so.Metrics = m.Handler()
			so.MetricsPath = cfg.Metrics.Path
		}
	})
	return &GatewayServer{Gateway: gw, Metrics: m, handler: h}, nil
}

// Handler returns the gateway's HTTP surface.
func (g *GatewayServer) Handler() http.Handler { return g.handler }

// Close tears down every channel.
func (g *GatewayServer) Close() error { return g.Gateway.Close() }
