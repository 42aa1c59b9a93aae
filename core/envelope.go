package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// AggregatorSource tags every AggregatedResult.
const AggregatorSource = "Aggregator"

// PayloadKind discriminates the two payload shapes a branch can return.
type PayloadKind string

const (
	// PayloadEmpty marks a payload that carries nothing (error envelopes).
	PayloadEmpty PayloadKind = "empty"
	// PayloadText is a plain text response.
	PayloadText PayloadKind = "text"
	// PayloadStructured is a JSON object response.
	PayloadStructured PayloadKind = "structured"
)

// Payload holds either text or a structured JSON object, never both.
type Payload struct {
	Text string
	Data map[string]any
}

// TextPayload wraps a text response.
func TextPayload(s string) Payload { return Payload{Text: s} }

// StructuredPayload wraps a JSON object response.
func StructuredPayload(data map[string]any) Payload { return Payload{Data: data} }

// Kind reports which variant the payload holds.
func (p Payload) Kind() PayloadKind {
	switch {
	case p.Data != nil:
		return PayloadStructured
	case p.Text != "":
		return PayloadText
	default:
		return PayloadEmpty
	}
}

// IsZero reports whether the payload carries no content.
func (p Payload) IsZero() bool { return p.Kind() == PayloadEmpty }

// String renders the payload as text. Structured payloads render as compact JSON.
func (p Payload) String() string {
	if p.Data == nil {
		return p.Text
	}
	b, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Sprintf("%v", p.Data)
	}
	return string(b)
}

// Contains reports whether the rendered payload contains substr, ignoring case.
func (p Payload) Contains(substr string) bool {
	return strings.Contains(strings.ToLower(p.String()), strings.ToLower(substr))
}

// Suggestion extracts a {type, value} action from a structured payload. Both
// fields must be present and non-empty.
func (p Payload) Suggestion() (Suggestion, bool) {
	if p.Data == nil {
		return Suggestion{}, false
	}
	var s Suggestion
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return Suggestion{}, false
	}
	if err := dec.Decode(p.Data); err != nil {
		return Suggestion{}, false
	}
	if s.Type == "" || s.Value == "" {
		return Suggestion{}, false
	}
	return s, true
}

// MarshalJSON encodes text as a JSON string and structured data as an object.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind() {
	case PayloadStructured:
		return json.Marshal(p.Data)
	case PayloadText:
		return json.Marshal(p.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a string, an object or null. Any other JSON value is
// kept verbatim as text.
func (p *Payload) UnmarshalJSON(b []byte) error {
	*p = Payload{}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &p.Text)
	case '{':
		data := map[string]any{}
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return err
		}
		p.Data = data
		return nil
	default:
		p.Text = string(trimmed)
		return nil
	}
}

// Suggestion is a concrete action a specialized branch asks the user to take.
type Suggestion struct {
	Type  string `json:"type" mapstructure:"type"`
	Value string `json:"value" mapstructure:"value"`
}

// String renders the suggestion with its type as a label, e.g. "Info: step2 applies".
func (s Suggestion) String() string {
	label := s.Type
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return label + ": " + s.Value
}

// BranchEnvelope is the one result a branch yields per invocation. Exactly one
// of Payload or Error is meaningful; Source always identifies the branch.
type BranchEnvelope struct {
	Source  string  `json:"source"`
	Payload Payload `json:"payload"`
	Error   string  `json:"error,omitempty"`
}

// NewEnvelope builds a success envelope.
func NewEnvelope(source string, payload Payload) BranchEnvelope {
	return BranchEnvelope{Source: source, Payload: payload}
}

// ErrorEnvelope builds a failure envelope.
func ErrorEnvelope(source, msg string) BranchEnvelope {
	return BranchEnvelope{Source: source, Error: msg}
}

// Failed reports whether the envelope carries an error.
func (e BranchEnvelope) Failed() bool { return e.Error != "" }

// FindEnvelope returns the envelope tagged with source. Envelopes arrive in no
// particular order so lookups are always by tag.
func FindEnvelope(envs []BranchEnvelope, source string) (BranchEnvelope, bool) {
	for _, e := range envs {
		if e.Source == source {
			return e, true
		}
	}
	return BranchEnvelope{}, false
}

// AggregatedResult is the synthesized answer of a workflow run.
type AggregatedResult struct {
	Source    string           `json:"source"`
	Text      string           `json:"text"`
	Rule      string           `json:"rule,omitempty"`
	Originals []BranchEnvelope `json:"originals"`
}

// Result is the terminal output of the aggregator: either an AggregatedResult
// or, when synthesis is unavailable, the raw envelopes.
type Result struct {
	Aggregated *AggregatedResult
	Raw        []BranchEnvelope
}

// Synthesized wraps text in an AggregatedResult.
func Synthesized(text, rule string, originals []BranchEnvelope) Result {
	return Result{Aggregated: &AggregatedResult{
		Source:    AggregatorSource,
		Text:      text,
		Rule:      rule,
		Originals: originals,
	}}
}

// RawResult wraps the untouched envelopes.
func RawResult(envs []BranchEnvelope) Result {
	if envs == nil {
		envs = []BranchEnvelope{}
	}
	return Result{Raw: envs}
}

// IsRaw reports whether the result is the unsynthesized envelope list.
func (r Result) IsRaw() bool { return r.Aggregated == nil }

// Envelopes returns the branch envelopes behind the result.
func (r Result) Envelopes() []BranchEnvelope {
	if r.Aggregated != nil {
		return r.Aggregated.Originals
	}
	return r.Raw
}

// MarshalJSON encodes the aggregated result as an object and the raw variant
// as a list of envelopes.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Aggregated != nil {
		return json.Marshal(r.Aggregated)
	}
	return json.Marshal(RawResult(r.Raw).Raw)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Result) UnmarshalJSON(b []byte) error {
	*r = Result{}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.Raw)
	}
	var agg AggregatedResult
	if err := json.Unmarshal(trimmed, &agg); err != nil {
		return err
	}
	r.Aggregated = &agg
	return nil
}
