// Package model defines the provider-agnostic abstractions used for answer
// synthesis.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so the aggregator remains decoupled from vendor SDKs.
package model
