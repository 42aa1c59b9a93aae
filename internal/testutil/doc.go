// Package testutil contains helpers used across tests to reduce boilerplate:
// a fake skill agent served over httptest, and builders for envelopes and
// conversation threads. It is not intended for production usage.
package testutil
