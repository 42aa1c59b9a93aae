// Package server exposes the orchestrator and the connection gateway over
// HTTP.
//
// Orchestrator routes (NewHandler):
//
//	GET  /                        endpoint index
//	GET  /.well-known/agent.json  the orchestrator's own manifest
//	GET  /health                  liveness
//	POST /invoke                  one workflow run
//	GET  /ws                      persistent channel, one response per request
//	GET  /metrics                 Prometheus, when configured
//
// Gateway routes (NewGatewayHandler):
//
//	GET  /                        endpoint index
//	GET  /health                  liveness plus active connection count
//	POST /invoke-via-gateway      one run proxied over the session's channel
//	GET  /metrics                 Prometheus, when configured
//
// Errors are JSON bodies of the form {"detail": "..."}: validation problems
// are 400, a lost gateway channel is 503 and anything else is 500.
package server
