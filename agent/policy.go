package agent

import (
	"strings"

	"github.com/bcgov/nr-ai-form/core"
)

// Rule names recorded on aggregated results.
const (
	RuleDenylist    = "denylist"
	RuleFallback    = "fallback"
	RuleSynthesized = "synthesized"
)

// DefaultNotSupportedMessage is returned when a query hits the denylist.
const DefaultNotSupportedMessage = "I'm sorry, but I can't help with that topic. Please ask about the application you are completing."

// DenyRule excludes a topic. A query matches when it contains any phrase,
// ignoring case.
type DenyRule struct {
	Name    string   `json:"name" yaml:"name"`
	Phrases []string `json:"phrases" yaml:"phrases"`
}

// Policy is the aggregator's rule table. It is domain configuration: nothing
// in it is hardcoded in the aggregator itself.
type Policy struct {
	Denylist            []DenyRule
	NotSupportedMessage string
	// GeneralBranch answers from general knowledge and may report not-found.
	GeneralBranch string
	// SpecializedBranch is preferred when the general branch finds nothing.
	SpecializedBranch string
	// NotFoundSentinels mark a general branch payload as empty-handed.
	NotFoundSentinels []string
}

// DefaultPolicy returns the stock policy for the conversation and
// form-support branches with an empty denylist.
func DefaultPolicy() Policy {
	return Policy{
		NotSupportedMessage: DefaultNotSupportedMessage,
		GeneralBranch:       "ConversationAgentA2A",
		SpecializedBranch:   "FormSupportAgentA2A",
		NotFoundSentinels:   []string{"Not found", "No results found"},
	}
}

// Denied returns the first deny rule the query matches.
func (p Policy) Denied(query string) (DenyRule, bool) {
	q := strings.ToLower(query)
	for _, rule := range p.Denylist {
		for _, phrase := range rule.Phrases {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase != "" && strings.Contains(q, phrase) {
				return rule, true
			}
		}
	}
	return DenyRule{}, false
}

// notFound reports whether env carries a not-found sentinel.
func (p Policy) notFound(env core.BranchEnvelope) bool {
	if env.Failed() || env.Payload.Kind() != core.PayloadText {
		return false
	}
	for _, s := range p.NotFoundSentinels {
		if s != "" && env.Payload.Contains(s) {
			return true
		}
	}
	return false
}

func (p Policy) message() string {
	if p.NotSupportedMessage == "" {
		return DefaultNotSupportedMessage
	}
	return p.NotSupportedMessage
}
