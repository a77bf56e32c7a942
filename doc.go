// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hybridrpc provides the client transports used by generated RPC
// stubs, including a hybrid transport that routes every call over a
// persistent WebSocket connection when it is up and over plain HTTP
// when it is not.
//
// # Transport Selection
//
// The hybrid transport asks the stream transport whether it is ready on
// every call. There is no cached mode: a connection that drops between two
// calls simply sends the second one over HTTP.
//
//	t, err := hybridrpc.NewHybridTransport(
//	    "https://api.example.com/rpc",
//	    "wss://api.example.com/ws",
//	    hybridrpc.JSONCodec{},
//	    logger,
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Stream().Close()
//
//	t.SetAuthorization(hybridrpc.TokenAuth{Token: token})
//
//	var reply HelloReply
//	err = hybridrpc.Call(ctx, t, hybridrpc.JSONCodec{}, "Greeter", "hello", &HelloArgs{Name: "X"}, &reply)
//
// The request/response side defaults to JSON-RPC over HTTP. Use build tags
// to enable alternatives:
//
//	go build              # HTTP only (default)
//	go build -tags grpc   # Enable gRPC request transport
//
// # Architecture
//
//   - client.go: ClientTransport and StreamTransport interfaces, Call helper
//   - hybrid.go: HybridTransport, per-call routing and state propagation
//   - transport.go: registry of request transport kinds
//   - http.go: JSON-RPC 2.0 over HTTP (gorilla/rpc json2)
//   - websocket.go: persistent WebSocket transport with reconnect
//   - dial_grpc.go: gRPC request transport (requires -tags grpc)
//   - auth.go, headers.go: credentials and header sets shared by all transports
//
// # Concurrency
//
// Setters on the hybrid transport are serialized, but they are not atomic
// with respect to calls already in flight: a Send racing a SetHeaders may
// go out with either the old or the new headers.
//
// Readiness is checked once per call and is not held while the call is
// dispatched. If the stream connection drops right after the check, the
// call still goes to the stream transport and fails there; the hybrid does
// not retry it over HTTP. Later calls see the new readiness.
//
// The hybrid never closes the transports it holds. Closing Stream() (and
// Request() where it implements io.Closer) is the owner's job.
package hybridrpc
