// Package conversation runs the message pipeline between a user and the bot.
//
// # Orchestrator
//
//	orch := conversation.New(store, completionClient, bus, conversation.Options{}, logger)
//	result, err := orch.SendMessage(ctx, userID, "Hi")
//
// SendMessage executes these steps strictly in sequence:
//
//  1. Append the user turn to the history store
//  2. Publish message-sent "User: <text>"
//  3. Publish typing-status true
//  4. Read the full conversation (includes the turn from step 1)
//  5. Ask the completion client for a reply
//  6. Publish typing-status false
//  7. Append the bot turn
//  8. Publish message-sent "Bot: <reply>"
//  9. Return the reply and a fresh read of the conversation
//
// Broadcasting is best-effort: a failed publish is logged and the pipeline
// moves on. The completion client never fails; its fallback texts are stored
// as ordinary bot turns.
//
// # Persistence failures
//
// By default a failed append is logged and the call still answers, so a
// turn may be broadcast without being stored. With Options.StrictPersistence
// a failed user-turn write returns a *PersistenceError before any broadcast.
// A failed bot-turn write is always logged and the reply still returned.
//
// # Concurrency
//
// Calls for different users never contend. Two concurrent calls for the
// same user may each complete over a history missing the other's in-flight
// turn. Options.SerializePerUser queues same-user calls to close that gap.
package conversation
