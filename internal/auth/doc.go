// Package auth resolves who is calling the gateway.
//
// # Identities
//
// Every conversation is keyed by an Identity.UserID:
//
//   - JWT users: registered accounts (email + bcrypt password). The user ID
//     is a UUID carried in the token's "sub" claim.
//   - Matrix senders: "matrix:@user:server", assigned by the Matrix bridge.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with auth.jwt_secret (at least 32 bytes),
// issued by Service.SignUp, Service.SignIn, and the "token" CLI command.
// Sign-out is client-side; tokens expire after auth.token_ttl.
//
// # Middleware
//
// RequireUser guards HTTP routes and answers 401
// {"error":"User must be logged in to view messages"} when no identity can
// be resolved. StreamInterceptor does the same for gRPC streams using the
// "authorization" metadata entry, leaving the health service open.
package auth
