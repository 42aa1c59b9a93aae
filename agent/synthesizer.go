package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/internal/util"
	"github.com/bcgov/nr-ai-form/logging"
	"github.com/bcgov/nr-ai-form/model"
)

// SynthesisRequest is everything a synthesizer may use to write an answer.
type SynthesisRequest struct {
	Query     string
	Envelopes []core.BranchEnvelope
	// Action, when set, must lead the answer.
	Action *core.Suggestion
}

// Synthesizer merges branch payloads into one natural-language answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// DefaultInstructions is the system prompt used by LLMSynthesizer. It is a
// text/template rendered with the SynthesisRequest.
const DefaultInstructions = `You combine answers from several assistants into one reply for a person filling in a government application form.
Use only the information in the assistant answers. Be concise and do not mention the assistants.
{{- if .Action}}
The form assistant requires the user to act. Start the reply with this action before any general information: {{.Action}}
{{- end}}`

// SynthesizerOptions configure an LLMSynthesizer.
type SynthesizerOptions struct {
	Instructions string
	Stream       bool
	Logger       logging.Logger
}

// LLMSynthesizer writes answers with a model.Model. Every failure is
// returned as a *core.SynthesisError.
type LLMSynthesizer struct {
	model model.Model
	opts  SynthesizerOptions
}

// NewLLMSynthesizer creates a synthesizer backed by m.
func NewLLMSynthesizer(m model.Model, optFns ...func(o *SynthesizerOptions)) *LLMSynthesizer {
	opts := SynthesizerOptions{
		Instructions: DefaultInstructions,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &LLMSynthesizer{model: m, opts: opts}
}

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	info := s.model.Info()
	fail := func(err error) (string, error) {
		return "", &core.SynthesisError{Provider: info.Provider, Err: err}
	}

	instructions, err := util.RenderTemplate(s.opts.Instructions, req)
	if err != nil {
		return fail(fmt.Errorf("rendering instructions: %w", err))
	}

	start := time.Now()
	resp, err := model.Collect(ctx, s.model, model.Request{
		Instructions: instructions,
		Messages:     []model.Message{{Role: "user", Text: buildPrompt(req)}},
		Stream:       s.opts.Stream,
	})
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	s.logCall(info.Name, tokens, time.Since(start), err)
	if err != nil {
		return fail(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return fail(fmt.Errorf("model returned empty text"))
	}
	return text, nil
}

func (s *LLMSynthesizer) logCall(name string, tokens int, dur time.Duration, err error) {
	if cl, ok := s.opts.Logger.(*logging.ContextLogger); ok {
		cl.LogSynthesis(name, tokens, dur, err)
		return
	}
	if err != nil {
		s.opts.Logger.Error("Synthesis failed", "model", name, "duration", dur, "error", err)
		return
	}
	s.opts.Logger.Info("Synthesis completed", "model", name, "token_count", tokens, "duration", dur)
}

// buildPrompt lists the usable branch answers under the user's question.
func buildPrompt(req SynthesisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Query)
	for _, env := range req.Envelopes {
		if env.Failed() || env.Payload.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", env.Source, env.Payload.String())
	}
	return b.String()
}
