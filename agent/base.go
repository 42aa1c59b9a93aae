package agent

import (
	"context"
	"fmt"

	"github.com/bcgov/nr-ai-form/core"
)

// Branch is one participant in a fan-out. Execute must always return an
// envelope tagged with the branch name; failures are reported inside it.
type Branch interface {
	Name() string
	Execute(ctx context.Context, q core.Query) core.BranchEnvelope
}

// BaseAgent bundles the identity shared by the workflow nodes. Embed it in
// concrete nodes.
type BaseAgent struct {
	name        string // Human-readable name, also the envelope source tag for branches
	description string // Detailed description of the node's purpose
}

// NewBaseAgent constructs a BaseAgent with a generated description (customizable via SetDescription).
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

// Name returns the human-readable name for this node.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this node's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the node's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }
