package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/internal/testutil"
	"github.com/bcgov/nr-ai-form/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	general     = "ConversationAgentA2A"
	specialized = "FormSupportAgentA2A"
)

type synthFunc func(ctx context.Context, req SynthesisRequest) (string, error)

func (f synthFunc) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	return f(ctx, req)
}

func denyPolicy() Policy {
	p := DefaultPolicy()
	p.Denylist = []DenyRule{{Name: "excluded-project", Phrases: []string{"Site C"}}}
	p.NotSupportedMessage = "That topic is not supported."
	return p
}

func TestAggregator_NotFoundFallsBackToSpecialized(t *testing.T) {
	envs := []core.BranchEnvelope{
		core.NewEnvelope(specialized, core.StructuredPayload(map[string]any{"type": "info", "value": "step2 applies"})),
		core.NewEnvelope(general, core.TextPayload("Not found")),
	}
	called := false
	a := NewAggregator(func(o *AggregatorOptions) {
		o.Synthesizer = synthFunc(func(context.Context, SynthesisRequest) (string, error) {
			called = true
			return "should not be used", nil
		})
	})

	res := a.Aggregate(context.Background(), core.Query{Text: "What is the water permit process?"}, envs)
	require.False(t, res.IsRaw())
	assert.Equal(t, core.AggregatorSource, res.Aggregated.Source)
	assert.Equal(t, RuleFallback, res.Aggregated.Rule)
	assert.Contains(t, res.Aggregated.Text, "step2 applies")
	assert.NotContains(t, res.Aggregated.Text, "Not found")
	assert.Len(t, res.Aggregated.Originals, 2)
	assert.False(t, called)
}

func TestAggregator_DenylistOverridesEverything(t *testing.T) {
	envs := []core.BranchEnvelope{
		core.NewEnvelope(general, core.TextPayload("Site C is a dam")),
		core.NewEnvelope(specialized, core.StructuredPayload(map[string]any{"type": "action", "value": "fill step 3"})),
	}
	a := NewAggregator(func(o *AggregatorOptions) {
		o.Policy = denyPolicy()
		o.Synthesizer = synthFunc(func(context.Context, SynthesisRequest) (string, error) {
			t.Fatal("synthesizer must not run for denied queries")
			return "", nil
		})
	})

	q := core.Query{Text: "Tell me about the site c project permits"}
	first := a.Aggregate(context.Background(), q, envs)
	second := a.Aggregate(context.Background(), q, []core.BranchEnvelope{core.ErrorEnvelope(general, "down")})

	require.False(t, first.IsRaw())
	assert.Equal(t, "That topic is not supported.", first.Aggregated.Text)
	assert.Equal(t, RuleDenylist, first.Aggregated.Rule)
	assert.Equal(t, first.Aggregated.Text, second.Aggregated.Text, "denylist answer must not depend on branch content")
	assert.Empty(t, first.Aggregated.Originals)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))
	assert.NotContains(t, string(firstJSON), "Site C is a dam")
	assert.NotContains(t, string(firstJSON), "fill step 3")
}

func TestAggregator_RawWithoutSynthesizer(t *testing.T) {
	envs := []core.BranchEnvelope{
		core.NewEnvelope(specialized, core.TextPayload("fill in section 2")),
		core.NewEnvelope(general, core.TextPayload("Water licences are issued by ...")),
	}
	a := NewAggregator()
	assert.False(t, a.HasSynthesizer())

	res := a.Aggregate(context.Background(), core.Query{Text: "What is the water permit process?"}, envs)
	require.True(t, res.IsRaw())
	require.Len(t, res.Raw, 2)
	assert.ElementsMatch(t, envs, res.Raw)
}

func TestAggregator_SynthesisFailureFallsBackToRaw(t *testing.T) {
	envs := []core.BranchEnvelope{
		core.NewEnvelope(general, core.TextPayload("general info")),
		core.ErrorEnvelope(specialized, "Error communicating with Form Support Agent: refused"),
	}
	var reported error
	a := NewAggregator(func(o *AggregatorOptions) {
		o.Synthesizer = synthFunc(func(context.Context, SynthesisRequest) (string, error) {
			return "", &core.SynthesisError{Provider: "mock", Err: errors.New("rate limited")}
		})
		o.OnSynthesisFailure = func(err error) { reported = err }
	})

	res := a.Aggregate(context.Background(), core.Query{Text: "q"}, envs)
	require.True(t, res.IsRaw())
	assert.Equal(t, envs, res.Raw)
	var se *core.SynthesisError
	assert.ErrorAs(t, reported, &se)
}

func TestAggregator_SynthesisForegroundsAction(t *testing.T) {
	envs := []core.BranchEnvelope{
		core.NewEnvelope(general, core.TextPayload("Licences cover surface water.")),
		core.NewEnvelope(specialized, core.StructuredPayload(map[string]any{"type": "action", "value": "Select a water source"})),
	}
	var got SynthesisRequest
	a := NewAggregator(func(o *AggregatorOptions) {
		o.Synthesizer = synthFunc(func(_ context.Context, req SynthesisRequest) (string, error) {
			got = req
			return "Licences cover surface water.", nil
		})
	})

	res := a.Aggregate(context.Background(), core.Query{Text: "what next?"}, envs)
	require.False(t, res.IsRaw())
	assert.Equal(t, RuleSynthesized, res.Aggregated.Rule)
	assert.True(t, strings.HasPrefix(res.Aggregated.Text, "Action: Select a water source"), res.Aggregated.Text)
	require.NotNil(t, got.Action)
	assert.Equal(t, "Select a water source", got.Action.Value)
}

func TestAggregator_FailedSpecializedSkipsFallback(t *testing.T) {
	envs := []core.BranchEnvelope{
		core.NewEnvelope(general, core.TextPayload("Not found")),
		core.ErrorEnvelope(specialized, "down"),
	}
	res := NewAggregator().Aggregate(context.Background(), core.Query{Text: "q"}, envs)
	assert.True(t, res.IsRaw())
}

func TestAggregator_WithLLMSynthesizer(t *testing.T) {
	m := model.NewMockModel("mock")
	a := NewAggregator(func(o *AggregatorOptions) { o.Synthesizer = NewLLMSynthesizer(m) })

	envs := []core.BranchEnvelope{
		core.NewEnvelope(general, core.TextPayload("general")),
		core.NewEnvelope(specialized, core.TextPayload("special")),
	}
	res := a.Aggregate(context.Background(), core.Query{Text: "q"}, envs)
	require.False(t, res.IsRaw())
	assert.Contains(t, res.Aggregated.Text, "Mock response to:")
}

func TestPolicy_Denied(t *testing.T) {
	p := denyPolicy()
	rule, ok := p.Denied("what about SITE C?")
	assert.True(t, ok)
	assert.Equal(t, "excluded-project", rule.Name)

	_, ok = p.Denied("water licence")
	assert.False(t, ok)

	p.Denylist = append(p.Denylist, DenyRule{Name: "blank", Phrases: []string{"  "}})
	_, ok = p.Denied("anything")
	assert.False(t, ok, "blank phrases never match")
}

func TestAggregator_FailedGeneralWithoutSynthesizerIsRaw(t *testing.T) {
	envs := testutil.NewEnvelopes().
		Failed(general, "connection refused").
		Action(specialized, "action", "Upload a map").
		Build()

	res := NewAggregator().Aggregate(context.Background(), core.Query{Text: "what next?"}, envs)
	require.True(t, res.IsRaw())
	assert.Equal(t, envs, res.Raw)
}
