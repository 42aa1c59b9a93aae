// Package engine implements the workflow orchestration layer.
//
// An Engine runs one graph per request:
//
//	┌──────────┐   ┌──────────────────┐   ┌────────┐   ┌─────────────────────┐   ┌──────┐
//	│ DISPATCH │──▶│ BRANCHES_RUNNING │──▶│ JOINED │──▶│ SYNTHESIZED | RAW   │──▶│ DONE │
//	└────┬─────┘   └──────────────────┘   └────────┘   └─────────────────────┘   └──────┘
//	     │
//	     ▼
//	┌────────┐
//	│ FAILED │  (validation only)
//	└────────┘
//
// Before dispatch the engine resolves or creates the session; after
// aggregation it appends the new turn to the session's thread and saves it.
// A failed save is logged and the caller still gets the answer.
//
// # Concurrency Model
//
//   - Runs are independent; a RunLimiter bounds how many execute at once.
//   - Inside a run every branch executes concurrently and the join is a
//     barrier over exactly one envelope per branch.
//   - Each run is cancellable by id through Cancel.
//
// # Hooks
//
// Hooks observe phase transitions and are used for logging and metrics:
//
//	eng := engine.New(dispatcher, aggregator, func(o *engine.Options) {
//	    o.SessionStore = store
//	    o.Hooks = []engine.Hook{engine.LoggingHook(logger), metrics.RunHook()}
//	})
//	out, err := eng.Run(ctx, core.Request{Query: "What is the water permit process?"})
package engine
