// Package gateway maps external session ids onto persistent channels into a
// workflow-hosting process.
//
// Each session owns at most one live Connection. A connection carries one
// request at a time; concurrent requests for the same session queue on the
// connection's lock. A send or receive failure evicts the connection and
// returns a retryable *core.ConnectionError, and the next call for that
// session dials a fresh channel.
//
//	gw := gateway.New("ws://localhost:8002/ws")
//	defer gw.Close()
//	resp, err := gw.Invoke(ctx, core.Request{Query: "hi", SessionID: "abc"})
package gateway
