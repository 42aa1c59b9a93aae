package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestPayload_UnmarshalVariants(t *testing.T) {
	cases := map[string]PayloadKind{
		`"hello"`:                      PayloadText,
		`{"type":"info","value":"x"}`: PayloadStructured,
		`null`:                         PayloadEmpty,
		`42`:                           PayloadText,
	}
	for in, want := range cases {
		var p Payload
		if err := json.Unmarshal([]byte(in), &p); err != nil {
			t.Fatalf("%s: unexpected error %v", in, err)
		}
		if p.Kind() != want {
			t.Errorf("%s: expected kind %s, got %s", in, want, p.Kind())
		}
	}
}

func TestPayload_Suggestion(t *testing.T) {
	p := StructuredPayload(map[string]any{"type": "info", "value": "step2 applies", "extra": true})
	s, ok := p.Suggestion()
	if !ok {
		t.Fatal("expected suggestion")
	}
	if s.Type != "info" || s.Value != "step2 applies" {
		t.Errorf("unexpected suggestion %+v", s)
	}
	if s.String() != "Info: step2 applies" {
		t.Errorf("unexpected rendering %q", s.String())
	}

	if _, ok := StructuredPayload(map[string]any{"type": "info"}).Suggestion(); ok {
		t.Error("suggestion without value should be rejected")
	}
	if _, ok := TextPayload("type: info").Suggestion(); ok {
		t.Error("text payloads never carry suggestions")
	}
}

func TestPayload_SuggestionWeakValue(t *testing.T) {
	s, ok := StructuredPayload(map[string]any{"type": "count", "value": 3}).Suggestion()
	if !ok || s.Value != "3" {
		t.Fatalf("expected numeric value to be rendered, got %+v ok=%v", s, ok)
	}
}

func TestResult_MarshalVariants(t *testing.T) {
	envs := []BranchEnvelope{
		NewEnvelope("A", TextPayload("a")),
		ErrorEnvelope("B", "boom"),
	}

	raw, err := json.Marshal(RawResult(envs))
	if err != nil {
		t.Fatalf("marshal raw: %v", err)
	}
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("raw result should encode as a list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(list))
	}

	agg, err := json.Marshal(Synthesized("answer", "synthesized", envs))
	if err != nil {
		t.Fatalf("marshal aggregated: %v", err)
	}
	var back Result
	if err := json.Unmarshal(agg, &back); err != nil {
		t.Fatalf("unmarshal aggregated: %v", err)
	}
	if back.IsRaw() || back.Aggregated.Source != AggregatorSource || back.Aggregated.Text != "answer" {
		t.Errorf("unexpected aggregated round trip: %+v", back.Aggregated)
	}
	if len(back.Envelopes()) != 2 {
		t.Errorf("expected originals to survive, got %d", len(back.Envelopes()))
	}
}

func TestFindEnvelope(t *testing.T) {
	envs := []BranchEnvelope{NewEnvelope("B", TextPayload("b")), NewEnvelope("A", TextPayload("a"))}
	e, ok := FindEnvelope(envs, "A")
	if !ok || e.Payload.Text != "a" {
		t.Fatalf("expected to find A, got %+v", e)
	}
	if _, ok := FindEnvelope(envs, "C"); ok {
		t.Error("C should not be found")
	}
}

func TestErrors_Classification(t *testing.T) {
	base := errors.New("reset")
	conn := fmt.Errorf("wrapped: %w", &ConnectionError{SessionID: "s", Err: base})
	if !IsRetryable(conn) {
		t.Error("connection errors must be retryable")
	}
	if !errors.Is(conn, base) {
		t.Error("connection error should unwrap to its cause")
	}
	if !IsValidation(fmt.Errorf("x: %w", &ValidationError{Field: "query", Reason: "empty"})) {
		t.Error("expected validation error to be detected")
	}
	if IsValidation(&InvocationError{URL: "u", Err: base}) {
		t.Error("invocation error is not a validation error")
	}
}
