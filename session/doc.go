// Package session implements core.SessionStore on top of interchangeable
// backends. A Store wraps one Backend and makes it best-effort: loads that
// fail degrade to a fresh session and saves that fail are logged and
// returned as *core.PersistenceError for the caller to drop.
//
// Backends:
//   - MemoryBackend: process-local map with optional TTL, for tests and demos.
//   - RedisBackend: TTL-bounded cache, one key per session.
//   - DocumentBackend: durable SQLite collection, one document per session,
//     upserted on save.
//
// Open picks a backend from Config; only the wiring layer needs to know
// which one is in use.
package session
