// Package dedupe suppresses repeated work within a time window.
//
// The Matrix bridge uses CheckAndMark to drop redelivered room events. The
// HTTP API uses Begin/Complete/Abandon to honor Idempotency-Key headers on
// POST /chat/message: a replay returns the stored result instead of sending
// the message again.
package dedupe
