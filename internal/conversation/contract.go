//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_conversation.go -package=mocks

// ABOUTME: Collaborator interfaces the orchestrator depends on
// ABOUTME: Narrow views of the history store, completion client, and event bus

package conversation

import (
	"context"

	"github.com/2389/relay-gateway/internal/completion"
	"github.com/2389/relay-gateway/internal/events"
	"github.com/2389/relay-gateway/internal/store"
)

// HistoryStore is the append-only per-user log
type HistoryStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, userID string) ([]*store.Message, error)
}

// Completer turns an ordered conversation into a reply. It never fails;
// errors are already folded into the reply text.
type Completer interface {
	Complete(ctx context.Context, history []*store.Message) completion.Reply
}

// Publisher hands events to the bus without waiting on subscribers
type Publisher interface {
	Publish(channel events.Channel, userID string, payload any) error
}
