// Package a2a implements the agent-to-agent HTTP contract used to reach remote
// skill services: manifest discovery at a well-known path, a JSON invoke
// endpoint and a health check.
package a2a
