// Package completion calls the Gemini generateContent API.
//
// Client.Complete sends the entire conversation on every call (stateless
// server side) and returns a Reply. It never returns an error: a missing
// key, HTTP 400/403/429, and any other transport failure each map to a
// fixed fallback text that the orchestrator stores as the bot turn.
//
// Each call is a single attempt bounded by Config.Timeout.
package completion
