// ABOUTME: Orchestrator runs the send-message pipeline for one user turn
// ABOUTME: Record first, then broadcast; completion failures become reply text, never errors

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/relay-gateway/internal/completion"
	"github.com/2389/relay-gateway/internal/events"
	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
)

// saveTimeout bounds each history write. Writes run on a context detached
// from the caller so a dropped client doesn't lose a turn mid-pipeline.
const saveTimeout = 5 * time.Second

// ErrEmptyMessage is returned when the message text is empty
var ErrEmptyMessage = errors.New("message is empty")

// ErrMissingUser is returned when SendMessage is called without an identity
var ErrMissingUser = errors.New("user id is required")

// PersistenceError reports a failed history write.
type PersistenceError struct {
	Author store.Author
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s turn: %v", e.Author, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Options tune the pipeline
type Options struct {
	// SerializePerUser runs at most one SendMessage per user at a time, so
	// each completion sees every earlier turn from that user.
	SerializePerUser bool

	// StrictPersistence fails the call when the user turn cannot be stored,
	// before anything is broadcast or the completion client is called.
	StrictPersistence bool
}

// SendResult is what a caller gets back from SendMessage
type SendResult struct {
	BotResponse string
	History     []*store.Message
}

// Orchestrator coordinates the history store, completion client, and event bus.
type Orchestrator struct {
	history   HistoryStore
	completer Completer
	publisher Publisher
	opts      Options
	locks     *userLocks
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates an Orchestrator. Pass nil logger for default.
func New(history HistoryStore, completer Completer, publisher Publisher, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		history:   history,
		completer: completer,
		publisher: publisher,
		opts:      opts,
		locks:     newUserLocks(),
		tracer:    otel.Tracer("github.com/2389/relay-gateway/internal/conversation"),
		logger:    logger.With("component", "conversation"),
	}
}

// FormatUserText is the message-sent text for a user turn.
func FormatUserText(content string) string {
	return "User: " + content
}

// FormatBotText is the message-sent text for a bot turn.
func FormatBotText(content string) string {
	return "Bot: " + content
}

// SendMessage stores the user's turn, asks the completion client for a reply
// over the full conversation, stores the reply, and returns it with a fresh
// read of the conversation.
//
// Bus publishes happen in this order for every call:
// message-sent(user), typing-status(true), typing-status(false), message-sent(bot).
// Publish failures are logged and never abort the call.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, text string) (*SendResult, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if text == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := o.tracer.Start(ctx, "conversation.SendMessage",
		trace.WithAttributes(attribute.String("relay.user_id", userID)))
	defer span.End()

	if o.opts.SerializePerUser {
		unlock := o.locks.lock(userID)
		defer unlock()
	}

	logger := o.logger.With("user_id", userID)

	// 1. Record the user turn before anything is broadcast
	userMsg := store.NewMessage(userID, store.AuthorUser, text)
	if err := o.append(ctx, userMsg); err != nil {
		if o.opts.StrictPersistence {
			span.SetStatus(codes.Error, "user turn not stored")
			return nil, &PersistenceError{Author: store.AuthorUser, Err: err}
		}
		logger.Error("user turn not stored, continuing", "message_id", userMsg.ID, "error", err)
	}

	// 2-3. Announce the turn and start typing
	o.publish(logger, events.ChannelMessageSent, userID, events.MessageSentEvent{
		FormattedText: FormatUserText(text),
		UserID:        userID,
	})
	o.publish(logger, events.ChannelTypingStatus, userID, events.TypingEvent{Typing: true})

	// 4. Read the conversation; it must include the turn just recorded
	history := o.readForCompletion(ctx, logger, userMsg)

	// 5. Completion never fails outward
	reply := o.complete(ctx, history)
	span.SetAttributes(attribute.String("completion.outcome", string(reply.Outcome)))
	if reply.Fallback() {
		logger.Warn("completion fell back", "outcome", reply.Outcome)
	}

	// 6. Stop typing
	o.publish(logger, events.ChannelTypingStatus, userID, events.TypingEvent{Typing: false})

	// 7. Record the bot turn
	// The reply is already computed, so a failed write never discards it
	botMsg := store.NewMessage(userID, store.AuthorBot, reply.Text)
	if err := o.append(ctx, botMsg); err != nil {
		span.RecordError(&PersistenceError{Author: store.AuthorBot, Err: err})
		logger.Error("bot turn not stored, continuing", "message_id", botMsg.ID, "error", err)
	}

	// 8. Announce the reply
	o.publish(logger, events.ChannelMessageSent, userID, events.MessageSentEvent{
		FormattedText: FormatBotText(reply.Text),
		UserID:        userID,
	})

	// 9. Fresh read for the caller
	fresh, err := o.history.ListMessages(ctx, userID)
	if err != nil {
		logger.Error("reading history after reply", "error", err)
		fresh = history
	}
	fresh = withTurn(withTurn(fresh, userMsg), botMsg)

	logger.Info("message handled",
		"user_message_id", userMsg.ID,
		"bot_message_id", botMsg.ID,
		"outcome", reply.Outcome,
		"history_len", len(fresh))

	return &SendResult{BotResponse: reply.Text, History: fresh}, nil
}

// GetHistory returns the user's conversation, oldest first. Read failures
// are logged and degrade to an empty conversation.
func (o *Orchestrator) GetHistory(ctx context.Context, userID string) []*store.Message {
	ctx, span := o.tracer.Start(ctx, "conversation.GetHistory",
		trace.WithAttributes(attribute.String("relay.user_id", userID)))
	defer span.End()

	msgs, err := o.history.ListMessages(ctx, userID)
	if err != nil {
		span.RecordError(err)
		o.logger.Error("reading history", "user_id", userID, "error", err)
		return []*store.Message{}
	}
	if msgs == nil {
		return []*store.Message{}
	}
	return msgs
}

func (o *Orchestrator) append(ctx context.Context, msg *store.Message) error {
	ctx, span := o.tracer.Start(ctx, "history.append",
		trace.WithAttributes(attribute.String("relay.author", string(msg.Author))))
	defer span.End()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := o.history.AppendMessage(saveCtx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Author)).Inc()
	return nil
}

// readForCompletion reads the conversation for step 4. A failed read or a
// missing user turn falls back to a history that still ends with it.
func (o *Orchestrator) readForCompletion(ctx context.Context, logger *slog.Logger, userMsg *store.Message) []*store.Message {
	ctx, span := o.tracer.Start(ctx, "history.read")
	defer span.End()

	history, err := o.history.ListMessages(ctx, userMsg.UserID)
	if err != nil {
		span.RecordError(err)
		logger.Error("reading history for completion", "error", err)
		history = nil
	}
	return withTurn(history, userMsg)
}

func (o *Orchestrator) complete(ctx context.Context, history []*store.Message) completion.Reply {
	ctx, span := o.tracer.Start(ctx, "completion.complete",
		trace.WithAttributes(attribute.Int("relay.history_len", len(history))))
	defer span.End()

	reply := o.completer.Complete(ctx, history)
	span.SetAttributes(attribute.String("completion.outcome", string(reply.Outcome)))
	return reply
}

func (o *Orchestrator) publish(logger *slog.Logger, channel events.Channel, userID string, payload any) {
	if err := o.publisher.Publish(channel, userID, payload); err != nil {
		logger.Warn("publish failed", "channel", channel, "error", err)
	}
}

// withTurn returns msgs with msg appended unless a message with the same
// ID is already present.
func withTurn(msgs []*store.Message, msg *store.Message) []*store.Message {
	for _, m := range msgs {
		if m.ID == msg.ID {
			return msgs
		}
	}
	return append(msgs, msg)
}
