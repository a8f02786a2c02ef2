// ABOUTME: Matrix frontend for the conversation pipeline
// ABOUTME: Feeds room messages into SendMessage, posts replies back, and mirrors typing status

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/conversation"
	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/events"
)

// Sender runs one conversation turn
type Sender interface {
	SendMessage(ctx context.Context, userID, text string) (*conversation.SendResult, error)
}

// roomClient is the slice of the mautrix client the bridge talks to.
type roomClient interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// typingTimeout is how long a typing notification lasts if never cleared.
const typingTimeout = 30 * time.Second

// networkTimeout bounds each Matrix API call.
const networkTimeout = 10 * time.Second

// Bridge connects Matrix rooms to the conversation pipeline. Each sender
// gets their own conversation keyed by auth.MatrixUserID.
type Bridge struct {
	config config.MatrixConfig
	client *mautrix.Client
	rooms  roomClient
	sender Sender
	bus    *events.Bus
	seen   *dedupe.Cache
	logger *slog.Logger

	// active counts running turns per conversation user ID and room
	mu     sync.Mutex
	active map[string]map[id.RoomID]int

	wg sync.WaitGroup
}

// New creates a bridge. seen drops redelivered events; bus may be nil to
// disable typing mirroring.
func New(cfg config.MatrixConfig, sender Sender, bus *events.Bus, seen *dedupe.Cache, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	b := newBridge(cfg, client, sender, bus, seen, logger)
	b.client = client
	return b, nil
}

func newBridge(cfg config.MatrixConfig, rooms roomClient, sender Sender, bus *events.Bus, seen *dedupe.Cache, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		config: cfg,
		rooms:  rooms,
		sender: sender,
		bus:    bus,
		seen:   seen,
		logger: logger.With("component", "matrix"),
		active: make(map[string]map[id.RoomID]int),
	}
}

// Run syncs with the homeserver and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Homeserver,
		"user_id", b.config.UserID,
		"allowed_rooms", len(b.config.AllowedRooms),
	)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		b.handleMessageEvent(ctx, evt)
	})

	if b.config.TypingIndicator && b.bus != nil {
		sub := b.bus.Subscribe(ctx, events.ChannelTypingStatus)
		b.wg.Go(func() { b.forwardTyping(sub) })
	}

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	var err error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
	case err = <-syncErr:
		if ctx.Err() == nil {
			err = fmt.Errorf("matrix sync failed: %w", err)
		} else {
			err = nil
		}
	}
	b.wg.Wait()
	return err
}

// handleMessageEvent filters an incoming room event and starts a turn for it.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.config.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	if b.seen != nil && evt.ID != "" && b.seen.CheckAndMark("matrix:"+evt.ID.String()) {
		b.logger.Debug("dropping redelivered event", "event_id", evt.ID.String())
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	body := content.Body
	if b.config.CommandPrefix != "" {
		if !strings.HasPrefix(body, b.config.CommandPrefix) {
			return
		}
		body = strings.TrimPrefix(body, b.config.CommandPrefix)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}

	b.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", truncate(body, 50),
	)

	// Sync must not block on the completion call
	b.wg.Go(func() { b.processMessage(ctx, evt.RoomID, evt.Sender, body) })
}

// processMessage runs the turn and posts the reply to the room.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, text string) {
	userID := auth.MatrixUserID(sender.String())

	b.beginTurn(userID, roomID)
	defer b.endTurn(userID, roomID)

	result, err := b.sender.SendMessage(ctx, userID, text)
	if err != nil {
		b.logger.Error("conversation turn failed", "room", roomID.String(), "user_id", userID, "error", err)
		b.sendText(roomID, "Sorry, I could not process that message.")
		return
	}

	b.logger.Info("sending response", "room", roomID.String(), "length", len(result.BotResponse))
	b.sendText(roomID, result.BotResponse)
}

// forwardTyping mirrors typing-status events for Matrix users into the room
// their turn is running in. Events for other users are ignored.
func (b *Bridge) forwardTyping(sub *events.Subscription) {
	for evt := range sub.C {
		typing, ok := evt.Payload.(events.TypingEvent)
		if !ok {
			continue
		}
		for _, room := range b.activeRooms(evt.UserID) {
			b.setTyping(room, typing.Typing)
		}
	}
}

func (b *Bridge) beginTurn(userID string, roomID id.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rooms := b.active[userID]
	if rooms == nil {
		rooms = make(map[id.RoomID]int)
		b.active[userID] = rooms
	}
	rooms[roomID]++
}

// endTurn drops one turn and clears the room's typing indicator once no turn
// for the user is left running there.
func (b *Bridge) endTurn(userID string, roomID id.RoomID) {
	b.mu.Lock()
	rooms := b.active[userID]
	rooms[roomID]--
	last := rooms[roomID] <= 0
	if last {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(b.active, userID)
		}
	}
	b.mu.Unlock()

	if last && b.config.TypingIndicator && b.bus != nil {
		b.setTyping(roomID, false)
	}
}

// activeRooms lists the rooms the user has a turn running in.
func (b *Bridge) activeRooms(userID string) []id.RoomID {
	b.mu.Lock()
	defer b.mu.Unlock()
	rooms := make([]id.RoomID, 0, len(b.active[userID]))
	for room := range b.active[userID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.config.AllowedRooms, roomID)
}

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.rooms.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

func (b *Bridge) sendText(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.rooms.SendText(ctx, roomID, text); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
