// Package logging provides a minimal logging interface and adapters for the orchestrator.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, branches, stores and gateway use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ContextLogger with component/session helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(dispatcher, aggregator, func(o *engine.Options) { o.Logger = logger })
package logging
