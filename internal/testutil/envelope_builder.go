package testutil

import "github.com/bcgov/nr-ai-form/core"

// EnvelopeBuilder collects branch envelopes with fluent chaining.
//
//	envs := NewEnvelopes().Text("A", "hi").Action("B", "info", "step2").Build()
type EnvelopeBuilder struct {
	envs []core.BranchEnvelope
}

// NewEnvelopes starts an empty envelope list.
func NewEnvelopes() *EnvelopeBuilder {
	return &EnvelopeBuilder{}
}

// Text adds a text envelope from source.
func (b *EnvelopeBuilder) Text(source, text string) *EnvelopeBuilder {
	b.envs = append(b.envs, core.NewEnvelope(source, core.TextPayload(text)))
	return b
}

// Data adds a structured envelope from source.
func (b *EnvelopeBuilder) Data(source string, data map[string]any) *EnvelopeBuilder {
	b.envs = append(b.envs, core.NewEnvelope(source, core.StructuredPayload(data)))
	return b
}

// Action adds a structured {type, value} envelope from source.
func (b *EnvelopeBuilder) Action(source, typ, value string) *EnvelopeBuilder {
	return b.Data(source, map[string]any{"type": typ, "value": value})
}

// Failed adds an error envelope from source.
func (b *EnvelopeBuilder) Failed(source, msg string) *EnvelopeBuilder {
	b.envs = append(b.envs, core.ErrorEnvelope(source, msg))
	return b
}

// Build returns the collected envelopes.
func (b *EnvelopeBuilder) Build() []core.BranchEnvelope {
	return append([]core.BranchEnvelope(nil), b.envs...)
}
