// Package agent implements the nodes of the query workflow graph.
//
// Node types:
//   - BranchExecutor: wraps one remote skill client and always yields an envelope
//   - ParallelAgent: runs every branch concurrently behind a barrier join
//   - Dispatcher: validates the request and broadcasts one query to all branches
//   - Aggregator: applies the synthesis policy and yields the single result
//
// Branch failures never abort a run. They are captured as envelopes at the
// BranchExecutor boundary so the aggregator always sees one envelope per
// registered branch, identified by its source tag rather than arrival order.
package agent
