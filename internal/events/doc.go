// Package events is the in-process notification bus.
//
// Two channels carry conversation activity:
//
//   - typing-status: TypingEvent{Typing} around every completion call
//   - message-sent: MessageSentEvent{FormattedText, UserID} after each turn is stored
//
// Every Event also carries the conversation owner's UserID so frontends
// (SSE, gRPC, Matrix) can filter to one user without inspecting payloads.
//
// A Subscription may cover several channels; its events arrive on one Go
// channel in publish order, which is how frontends see the pipeline's
// message-sent(user), typing(true), typing(false), message-sent(bot) sequence.
//
// Delivery is best-effort. Publish never blocks; a subscriber whose buffer
// is full misses the event. There is no replay and no persistence.
package events
