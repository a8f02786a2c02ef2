// ABOUTME: In-process publish/subscribe bus for conversation notifications
// ABOUTME: Fans events out per channel with non-blocking, drop-on-full delivery

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/relay-gateway/internal/metrics"
)

// DefaultSubscriberBuffer is the channel buffer for each subscriber when none is configured.
const DefaultSubscriberBuffer = 64

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Channel names a stream of events
type Channel string

const (
	ChannelTypingStatus Channel = "typing-status"
	ChannelMessageSent  Channel = "message-sent"
)

// Channels lists every channel the orchestrator publishes on.
var Channels = []Channel{ChannelTypingStatus, ChannelMessageSent}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelTypingStatus || c == ChannelMessageSent
}

// TypingEvent is the typing-status payload.
type TypingEvent struct {
	Typing bool `json:"typing"`
}

// MessageSentEvent is the message-sent payload. FormattedText is
// "User: <text>" or "Bot: <text>".
type MessageSentEvent struct {
	FormattedText string `json:"formattedText"`
	UserID        string `json:"userId"`
}

// Event is what subscribers receive. UserID is the conversation owner the
// event concerns, so frontends can filter without decoding Payload.
type Event struct {
	Channel     Channel
	UserID      string
	Payload     any
	PublishedAt time.Time
}

// Publisher is the narrow interface the orchestrator depends on.
type Publisher interface {
	Publish(channel Channel, userID string, payload any) error
}

// Subscription is a live registration on one or more channels. Events from
// all of them arrive on C in publish order. C is closed when the subscription
// is cancelled or the bus closes.
type Subscription struct {
	ID       string
	Channels []Channel
	C        <-chan Event

	bus *Bus
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s.Channels, s.ID)
}

// Bus is an in-memory fan-out event bus. There is no replay: subscribers
// only see events published after they subscribe.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Channel]map[string]chan Event // channel -> subID -> ch
	buffer      int
	closed      bool
	logger      *slog.Logger
}

// NewBus creates a bus. buffer <= 0 uses DefaultSubscriberBuffer. Pass nil logger for default.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		subscribers: make(map[Channel]map[string]chan Event),
		buffer:      buffer,
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for events on channel and any additional channels.
// The subscription is cleaned up when ctx is cancelled or Cancel is called.
// Subscribing to a closed bus returns a subscription whose channel is
// already closed.
func (b *Bus) Subscribe(ctx context.Context, channel Channel, more ...Channel) *Subscription {
	channels := lo.Uniq(append([]Channel{channel}, more...))
	subID := uuid.New().String()
	ch := make(chan Event, b.buffer)
	sub := &Subscription{ID: subID, Channels: channels, C: ch, bus: b}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub
	}
	for _, c := range channels {
		if _, ok := b.subscribers[c]; !ok {
			b.subscribers[c] = make(map[string]chan Event)
		}
		b.subscribers[c][subID] = ch
		metrics.BusSubscribers.WithLabelValues(string(c)).Inc()
	}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "channels", channels, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(channels, subID)
	}()

	return sub
}

// Publish delivers an event to every current subscriber of channel. It never
// blocks: subscribers whose buffers are full miss the event. Publishing with
// no subscribers is a no-op.
func (b *Bus) Publish(channel Channel, userID string, payload any) error {
	event := Event{
		Channel:     channel,
		UserID:      userID,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}

	// Sends happen under the read lock so unsubscribe can't close a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		metrics.PublishTotal.WithLabelValues(string(channel), "error").Inc()
		return ErrBusClosed
	}

	for subID, ch := range b.subscribers[channel] {
		select {
		case ch <- event:
			metrics.PublishTotal.WithLabelValues(string(channel), "delivered").Inc()
		default:
			metrics.PublishTotal.WithLabelValues(string(channel), "dropped").Inc()
			b.logger.Debug("dropped event for slow subscriber",
				"channel", channel,
				"sub_id", subID)
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions on channel.
func (b *Bus) SubscriberCount(channel Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

func (b *Bus) unsubscribe(channels []Channel, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ch chan Event
	for _, c := range channels {
		subs, ok := b.subscribers[c]
		if !ok {
			continue
		}
		found, exists := subs[subID]
		if !exists {
			continue
		}
		ch = found
		delete(subs, subID)
		if len(subs) == 0 {
			delete(b.subscribers, c)
		}
		metrics.BusSubscribers.WithLabelValues(string(c)).Dec()
	}

	if ch == nil {
		return
	}
	close(ch)
	b.logger.Debug("subscriber removed", "channels", channels, "sub_id", subID)
}

// Close shuts down the bus and closes all subscriber channels. Later
// Publish calls return ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	// A multi-channel subscription appears under each of its channels
	closed := make(map[string]bool)
	for channel, subs := range b.subscribers {
		for subID, ch := range subs {
			if !closed[subID] {
				close(ch)
				closed[subID] = true
			}
			delete(subs, subID)
			metrics.BusSubscribers.WithLabelValues(string(channel)).Dec()
		}
		delete(b.subscribers, channel)
	}

	b.logger.Debug("bus closed")
}
