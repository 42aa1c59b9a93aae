// Package core provides the foundational domain types and interfaces shared by
// the orchestrator packages. It defines the core abstractions for:
//
//   - Queries (the normalized input broadcast to every branch)
//   - Branch envelopes (the tagged result every branch yields exactly once)
//   - Aggregated results (the single output of a workflow run)
//   - Sessions and threads (opaque persisted conversation state)
//   - The error taxonomy used across the workflow
//
// Implementation concerns (HTTP transport, persistence backends, concrete
// branch executors) live in other packages and depend on the small interfaces
// exposed here.
package core
