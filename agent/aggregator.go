package agent

import (
	"context"
	"strings"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

// AggregatorOptions configure an Aggregator.
type AggregatorOptions struct {
	Policy Policy
	// Synthesizer is optional; without it unresolved results stay raw.
	Synthesizer Synthesizer
	Logger      logging.Logger
	// OnSynthesisFailure is told about every swallowed synthesis error.
	OnSynthesisFailure func(err error)
}

// Aggregator is the join node. It receives every branch envelope and applies
// the synthesis policy in order:
//
//  1. a denylisted query returns the fixed not-supported message and no
//     branch content;
//  2. a not-found general branch yields the specialized branch's content;
//  3. a specialized {type, value} suggestion leads any synthesized answer;
//  4. with a synthesizer, the payloads are merged by it, falling back to the
//     raw envelopes on failure;
//  5. without one, the raw envelopes are returned.
type Aggregator struct {
	BaseAgent
	opts AggregatorOptions
}

// NewAggregator creates an aggregator with DefaultPolicy unless overridden.
func NewAggregator(optFns ...func(o *AggregatorOptions)) *Aggregator {
	opts := AggregatorOptions{
		Policy: DefaultPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Aggregator{BaseAgent: NewBaseAgent(core.AggregatorSource), opts: opts}
}

// HasSynthesizer reports whether an LLM synthesizer is configured.
func (a *Aggregator) HasSynthesizer() bool { return a.opts.Synthesizer != nil }

// Aggregate is the workflow's single output point.
func (a *Aggregator) Aggregate(ctx context.Context, q core.Query, envs []core.BranchEnvelope) core.Result {
	policy := a.opts.Policy

	if rule, denied := policy.Denied(q.Text); denied {
		a.opts.Logger.Info("Query matched denylist", "rule", rule.Name)
		return core.Synthesized(policy.message(), RuleDenylist, []core.BranchEnvelope{})
	}

	special, hasSpecial := core.FindEnvelope(envs, policy.SpecializedBranch)
	specialUsable := hasSpecial && !special.Failed() && !special.Payload.IsZero()

	var action *core.Suggestion
	if specialUsable {
		if s, ok := special.Payload.Suggestion(); ok {
			action = &s
		}
	}

	if general, ok := core.FindEnvelope(envs, policy.GeneralBranch); ok && specialUsable && policy.notFound(general) {
		a.opts.Logger.Debug("General branch found nothing, using specialized branch", "branch", special.Source)
		return core.Synthesized(render(special, action), RuleFallback, envs)
	}

	if a.opts.Synthesizer == nil {
		return core.RawResult(envs)
	}

	text, err := a.opts.Synthesizer.Synthesize(ctx, SynthesisRequest{Query: q.Text, Envelopes: envs, Action: action})
	if err != nil {
		a.opts.Logger.Warn("Synthesis failed, returning raw branch results", "error", err)
		if a.opts.OnSynthesisFailure != nil {
			a.opts.OnSynthesisFailure(err)
		}
		return core.RawResult(envs)
	}
	if action != nil {
		text = foreground(*action, text)
	}
	return core.Synthesized(text, RuleSynthesized, envs)
}

// render returns the specialized content with any action first.
func render(env core.BranchEnvelope, action *core.Suggestion) string {
	if action != nil {
		return action.String()
	}
	return env.Payload.String()
}

// foreground puts the action at the start of text unless it is already there.
func foreground(action core.Suggestion, text string) string {
	lead := action.String()
	if strings.HasPrefix(strings.TrimSpace(text), lead) {
		return text
	}
	return lead + "\n\n" + text
}
