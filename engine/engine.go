package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
	"github.com/bcgov/nr-ai-form/session"
)

// Phase is a state of the per-run workflow state machine:
//
//	DISPATCH -> BRANCHES_RUNNING -> JOINED -> (SYNTHESIZED | RAW) -> DONE
//
// FAILED is only reachable from DISPATCH, when the request is rejected.
type Phase string

const (
	PhaseDispatch        Phase = "DISPATCH"
	PhaseBranchesRunning Phase = "BRANCHES_RUNNING"
	PhaseJoined          Phase = "JOINED"
	PhaseSynthesized     Phase = "SYNTHESIZED"
	PhaseRaw             Phase = "RAW"
	PhaseDone            Phase = "DONE"
	PhaseFailed          Phase = "FAILED"
)

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseFailed }

// Dispatcher validates requests and fans queries out to every branch.
type Dispatcher interface {
	Prepare(req core.Request) (core.Query, error)
	Dispatch(ctx context.Context, q core.Query) []core.BranchEnvelope
}

// Aggregator joins branch envelopes into the run's result.
type Aggregator interface {
	Aggregate(ctx context.Context, q core.Query, envs []core.BranchEnvelope) core.Result
}

// Config defines tuning parameters for the Engine.
type Config struct {
	// MaxConcurrentRuns limits how many runs execute at once. Zero means
	// unlimited.
	MaxConcurrentRuns int
	// MaxTurns caps the conversation thread kept per session. Zero keeps
	// every turn.
	MaxTurns int
}

// DefaultConfig provides the default engine configuration.
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
	MaxTurns:          50,
}

// Options configures an Engine.
type Options struct {
	Config Config
	// SessionStore threads conversation state between runs. Defaults to an
	// in-memory store.
	SessionStore core.SessionStore
	Logger       logging.Logger
	Hooks        []Hook
	// IDGenerator creates run and session ids. Defaults to uuid.NewString.
	IDGenerator func() string
}

// Output is the result of one workflow run.
type Output struct {
	RunID     string
	SessionID string
	Result    core.Result
	// Phases lists every phase the run passed through, in order.
	Phases []Phase
}

// Engine runs the dispatch, fan-out, join and aggregate workflow and
// threads session state around it. It holds no per-conversation state of
// its own; everything between runs lives in the SessionStore.
//
// A run either returns an Output or a *core.ValidationError. Branch
// failures, synthesis failures and persistence failures all degrade the
// result instead of failing the run.
type Engine struct {
	dispatcher Dispatcher
	aggregator Aggregator
	store      core.SessionStore
	logger     logging.Logger
	config     Config
	hooks      *HookManager
	limiter    *RunLimiter
	newID      func() string

	// Active run tracking - cancellation functions by run id.
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// New creates an Engine.
func New(dispatcher Dispatcher, aggregator Aggregator, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:      DefaultConfig,
		Logger:      logging.NoOpLogger{},
		IDGenerator: uuid.NewString,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewStore(session.NewMemoryBackend(0), func(o *session.StoreOptions) {
			o.Logger = opts.Logger
		})
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}

	return &Engine{
		dispatcher: dispatcher,
		aggregator: aggregator,
		store:      opts.SessionStore,
		logger:     opts.Logger,
		config:     opts.Config,
		hooks:      NewHookManager(opts.Hooks...),
		limiter:    NewRunLimiter(opts.Config.MaxConcurrentRuns),
		newID:      opts.IDGenerator,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// AddHook registers a phase transition hook.
func (e *Engine) AddHook(h Hook) { e.hooks.Register(h) }

// SessionStore returns the store the engine threads state through.
func (e *Engine) SessionStore() core.SessionStore { return e.store }

// run is the bookkeeping for one invocation.
type run struct {
	id        string
	sessionID string
	start     time.Time
	phase     Phase
	phases    []Phase
}

func (e *Engine) transition(ctx context.Context, r *run, to Phase, err error) {
	from := r.phase
	r.phase = to
	r.phases = append(r.phases, to)
	e.hooks.Fire(ctx, Transition{
		RunID:     r.id,
		SessionID: r.sessionID,
		From:      from,
		To:        to,
		At:        time.Now(),
		Elapsed:   time.Since(r.start),
		Err:       err,
	})
}

// Run executes one workflow invocation. When req carries no session id a
// new one is generated and returned in the Output.
//
// The only error returned for a started run is the dispatcher's validation
// error; context cancellation while waiting for a run slot is returned as is.
func (e *Engine) Run(ctx context.Context, req core.Request) (*Output, error) {
	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for run slot: %w", err)
	}
	defer e.limiter.Release()

	r := &run{id: e.newID(), sessionID: req.SessionID, start: time.Now()}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.runsMu.Lock()
	e.activeRuns[r.id] = cancel
	e.runsMu.Unlock()
	defer func() {
		e.runsMu.Lock()
		delete(e.activeRuns, r.id)
		e.runsMu.Unlock()
	}()

	log := e.runLogger(r)
	e.transition(runCtx, r, PhaseDispatch, nil)

	q, err := e.dispatcher.Prepare(req)
	if err != nil {
		e.transition(runCtx, r, PhaseFailed, err)
		log.Info("Request rejected", "error", err)
		return nil, err
	}

	if r.sessionID == "" {
		r.sessionID = e.newID()
		log = e.runLogger(r)
	}
	q = q.WithSession(r.sessionID)

	sess := e.store.GetOrCreate(runCtx, r.sessionID)
	thread, err := core.DecodeThread(sess.State)
	if err != nil {
		log.Warn("Discarding unreadable session state", "error", err)
	}

	e.transition(runCtx, r, PhaseBranchesRunning, nil)
	envs := e.dispatcher.Dispatch(runCtx, q)
	e.transition(runCtx, r, PhaseJoined, nil)

	result := e.aggregator.Aggregate(runCtx, q, envs)
	if result.IsRaw() {
		e.transition(runCtx, r, PhaseRaw, nil)
	} else {
		e.transition(runCtx, r, PhaseSynthesized, nil)
	}

	e.persist(runCtx, r, thread, q, result, log)
	e.transition(runCtx, r, PhaseDone, nil)

	if cl, ok := e.logger.(*logging.ContextLogger); ok {
		cl.WithSession(r.sessionID, r.id).LogWorkflowRun(string(r.phases[len(r.phases)-2]), len(envs), time.Since(r.start), nil)
	}

	return &Output{RunID: r.id, SessionID: r.sessionID, Result: result, Phases: r.phases}, nil
}

// persist appends the turn and saves the thread. Failures are logged only.
// The save runs even if the caller has gone away so the answer already
// computed is remembered.
func (e *Engine) persist(ctx context.Context, r *run, thread *core.Thread, q core.Query, result core.Result, log logging.Logger) {
	resp, err := json.Marshal(result)
	if err != nil {
		log.Warn("Could not encode result for session thread", "error", err)
		return
	}
	thread.Append(core.Turn{Query: q.Text, Response: resp, At: time.Now().UTC()}, e.config.MaxTurns)
	state, err := thread.Encode()
	if err != nil {
		log.Warn("Could not encode session thread", "error", err)
		return
	}
	if err := e.store.Save(context.WithoutCancel(ctx), r.sessionID, state); err != nil {
		log.Warn("Session state not persisted, continuing", "error", err)
	}
}

func (e *Engine) runLogger(r *run) logging.Logger {
	if cl, ok := e.logger.(*logging.ContextLogger); ok {
		return cl.WithSession(r.sessionID, r.id)
	}
	return e.logger
}

// Cancel stops an in-flight run. Branches still running see their context
// cancelled and yield error envelopes, so the run still completes.
func (e *Engine) Cancel(runID string) error {
	e.runsMu.RLock()
	cancel, ok := e.activeRuns[runID]
	e.runsMu.RUnlock()
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	cancel()
	return nil
}

// ActiveRuns returns the ids of runs currently executing.
func (e *Engine) ActiveRuns() []string {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	ids := make([]string, 0, len(e.activeRuns))
	for id := range e.activeRuns {
		ids = append(ids, id)
	}
	return ids
}

// History returns the stored conversation thread for sessionID.
func (e *Engine) History(ctx context.Context, sessionID string) (*core.Thread, error) {
	sess := e.store.GetOrCreate(ctx, sessionID)
	return core.DecodeThread(sess.State)
}

// Close releases the session store.
func (e *Engine) Close() error {
	return e.store.Close()
}
