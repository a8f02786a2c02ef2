// Package gateway wires the relay-gateway server together.
//
// # Overview
//
// Gateway owns the store, the event bus, the completion client, the
// conversation orchestrator, and the frontends that drive it: the HTTP API,
// the gRPC events service, and the optional Matrix bridge.
//
// # HTTP API
//
// Routes are registered in router.go:
//
//   - POST /auth/signup, /auth/signin - Create an account or sign in; returns a JWT
//   - POST /auth/signout - No-op; clients drop their token
//   - GET /auth/me - The signed-in account
//   - POST /chat/message - Run the send-message pipeline
//   - GET /chat/history - The caller's conversation (?format=html renders markdown)
//   - GET /chat/events - Server-Sent Events stream of bus events
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (pings the store)
//   - GET /metrics - Prometheus metrics, when enabled
//
// Requests to /auth/me and /chat/* without a valid bearer token get 401
// {"error":"User must be logged in to view messages"}.
//
// POST /chat/message accepts an Idempotency-Key header. A repeated key from
// the same user returns the first response with Idempotent-Replayed: true,
// or 409 while the first request is still running.
//
// # Event Stream
//
// GET /chat/events streams the caller's typing-status and message-sent events:
//
//	event: message-sent
//	data: {"formattedText":"User: Hi","userId":"..."}
//
//	event: typing-status
//	data: {"typing":true}
//
// ?channel= limits the stream to one channel and ?scope=all widens it to every
// user's conversation. Events arrive in publish order across channels.
//
// # gRPC
//
// relay.v1.Events/Subscribe streams the same events as protobuf Structs; see
// EventsServer. grpc.health.v1 is served without authentication.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down on its own when ctx ends; Shutdown is for callers that never
// called Run.
package gateway
