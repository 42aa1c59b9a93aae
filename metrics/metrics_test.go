package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/engine"
	"github.com/bcgov/nr-ai-form/session"
)

func TestMetrics_Observers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBranch("FormSupportAgentA2A", 20*time.Millisecond, false)
	m.ObserveBranch("FormSupportAgentA2A", 20*time.Millisecond, true)
	m.ObserveSession(core.BackendRedis, session.OpSave, time.Millisecond, errors.New("down"))
	m.ObserveSynthesisFailure(errors.New("x"))
	m.SetGatewayConnections(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BranchCalls.WithLabelValues("FormSupportAgentA2A", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BranchCalls.WithLabelValues("FormSupportAgentA2A", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionOps.WithLabelValues("redis", "save", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SynthesisFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GatewayConns))
}

func TestMetrics_RunHook(t *testing.T) {
	m := New(nil)
	hook := m.RunHook()
	ctx := context.Background()

	hook.OnTransition(ctx, engine.Transition{To: engine.PhaseRaw})
	hook.OnTransition(ctx, engine.Transition{To: engine.PhaseDone, Elapsed: time.Second})
	hook.OnTransition(ctx, engine.Transition{To: engine.PhaseFailed})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("raw")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Runs.WithLabelValues("synthesized")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ObserveBranch("ConversationAgentA2A", time.Millisecond, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `orchestrator_branch_calls_total{branch="ConversationAgentA2A",outcome="ok"} 1`))
}
