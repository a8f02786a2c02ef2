// ABOUTME: Tests for the Matrix bridge
// ABOUTME: Uses a fake room client to verify filtering, identity mapping, replies, and typing mirroring

package matrix

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/conversation"
	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/events"
)

const (
	botID   = "@relay:example.org"
	aliceID = "@alice:example.org"
	roomA   = "!a:example.org"
	roomB   = "!b:example.org"
)

type sentText struct {
	room id.RoomID
	text string
}

type typingCall struct {
	room   id.RoomID
	typing bool
}

type fakeRooms struct {
	mu     sync.Mutex
	texts  []sentText
	typing []typingCall
}

func (f *fakeRooms) SendText(_ context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{roomID, text})
	return &mautrix.RespSendEvent{}, nil
}

func (f *fakeRooms) UserTyping(_ context.Context, roomID id.RoomID, typing bool, _ time.Duration) (*mautrix.RespTyping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{roomID, typing})
	return &mautrix.RespTyping{}, nil
}

func (f *fakeRooms) sent() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.texts...)
}

func (f *fakeRooms) typingCalls() []typingCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]typingCall(nil), f.typing...)
}

type call struct {
	userID string
	text   string
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []call
	err     error
	release chan struct{}
}

func (f *fakeSender) SendMessage(ctx context.Context, userID, text string) (*conversation.SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{userID, text})
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &conversation.SendResult{BotResponse: "echo: " + text}, nil
}

func (f *fakeSender) received() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func textEvent(eventID, sender, room, body string) *event.Event {
	return &event.Event{
		ID:     id.EventID(eventID),
		Sender: id.UserID(sender),
		RoomID: id.RoomID(room),
		Type:   event.EventMessage,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func newTestBridge(t *testing.T, cfg config.MatrixConfig, sender Sender, bus *events.Bus) (*Bridge, *fakeRooms) {
	t.Helper()
	cfg.UserID = botID
	seen := dedupe.New(time.Minute, 100)
	t.Cleanup(seen.Close)
	rooms := &fakeRooms{}
	return newBridge(cfg, rooms, sender, bus, seen, nil), rooms
}

func TestBridge_RepliesInRoom(t *testing.T) {
	sender := &fakeSender{}
	b, rooms := newTestBridge(t, config.MatrixConfig{}, sender, nil)

	b.handleMessageEvent(context.Background(), textEvent("$1", aliceID, roomA, "  Hi  "))
	b.wg.Wait()

	require.Equal(t, []call{{"matrix:" + aliceID, "Hi"}}, sender.received())
	assert.Equal(t, []sentText{{id.RoomID(roomA), "echo: Hi"}}, rooms.sent())
}

func TestBridge_Filters(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MatrixConfig
		evt  *event.Event
	}{
		{"own message", config.MatrixConfig{}, textEvent("$1", botID, roomA, "Hi")},
		{"room not allowed", config.MatrixConfig{AllowedRooms: []string{roomB}}, textEvent("$2", aliceID, roomA, "Hi")},
		{"missing prefix", config.MatrixConfig{CommandPrefix: "!ask"}, textEvent("$3", aliceID, roomA, "Hi")},
		{"prefix only", config.MatrixConfig{CommandPrefix: "!ask"}, textEvent("$4", aliceID, roomA, "!ask   ")},
		{"blank body", config.MatrixConfig{}, textEvent("$5", aliceID, roomA, "   ")},
		{"notice", config.MatrixConfig{}, &event.Event{
			ID: "$6", Sender: aliceID, RoomID: roomA,
			Content: event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgNotice, Body: "Hi"}},
		}},
		{"unparsed content", config.MatrixConfig{}, &event.Event{ID: "$7", Sender: aliceID, RoomID: roomA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			b, rooms := newTestBridge(t, tt.cfg, sender, nil)

			b.handleMessageEvent(context.Background(), tt.evt)
			b.wg.Wait()

			assert.Empty(t, sender.received())
			assert.Empty(t, rooms.sent())
		})
	}
}

func TestBridge_CommandPrefixStripped(t *testing.T) {
	sender := &fakeSender{}
	b, _ := newTestBridge(t, config.MatrixConfig{CommandPrefix: "!ask", AllowedRooms: []string{roomA}}, sender, nil)

	b.handleMessageEvent(context.Background(), textEvent("$1", aliceID, roomA, "!ask what time is it?"))
	b.wg.Wait()

	require.Len(t, sender.received(), 1)
	assert.Equal(t, "what time is it?", sender.received()[0].text)
}

func TestBridge_RedeliveredEventDropped(t *testing.T) {
	sender := &fakeSender{}
	b, _ := newTestBridge(t, config.MatrixConfig{}, sender, nil)

	evt := textEvent("$same", aliceID, roomA, "Hi")
	b.handleMessageEvent(context.Background(), evt)
	b.handleMessageEvent(context.Background(), evt)
	b.wg.Wait()

	assert.Len(t, sender.received(), 1)
}

func TestBridge_SenderErrorPostsApology(t *testing.T) {
	sender := &fakeSender{err: errors.New("store down")}
	b, rooms := newTestBridge(t, config.MatrixConfig{}, sender, nil)

	b.handleMessageEvent(context.Background(), textEvent("$1", aliceID, roomA, "Hi"))
	b.wg.Wait()

	require.Len(t, rooms.sent(), 1)
	assert.Equal(t, "Sorry, I could not process that message.", rooms.sent()[0].text)
}

func TestBridge_ForwardsTypingForActiveUser(t *testing.T) {
	bus := events.NewBus(8, nil)
	defer bus.Close()
	sender := &fakeSender{release: make(chan struct{})}
	b, rooms := newTestBridge(t, config.MatrixConfig{TypingIndicator: true}, sender, bus)

	sub := bus.Subscribe(context.Background(), events.ChannelTypingStatus)
	done := make(chan struct{})
	go func() {
		b.forwardTyping(sub)
		close(done)
	}()

	b.handleMessageEvent(context.Background(), textEvent("$1", aliceID, roomA, "Hi"))
	require.Eventually(t, func() bool { return len(sender.received()) == 1 }, time.Second, 5*time.Millisecond)

	// Another user's typing is not mirrored
	require.NoError(t, bus.Publish(events.ChannelTypingStatus, "user-123", events.TypingEvent{Typing: true}))
	require.NoError(t, bus.Publish(events.ChannelTypingStatus, "matrix:"+aliceID, events.TypingEvent{Typing: true}))
	require.NoError(t, bus.Publish(events.ChannelTypingStatus, "matrix:"+aliceID, events.TypingEvent{Typing: false}))

	require.Eventually(t, func() bool { return len(rooms.typingCalls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []typingCall{{id.RoomID(roomA), true}, {id.RoomID(roomA), false}}, rooms.typingCalls())

	close(sender.release)
	b.wg.Wait()
	sub.Cancel()
	<-done
}

func TestBridge_TypingTracksEachRoom(t *testing.T) {
	bus := events.NewBus(8, nil)
	defer bus.Close()
	sender := &fakeSender{release: make(chan struct{})}
	b, rooms := newTestBridge(t, config.MatrixConfig{TypingIndicator: true}, sender, bus)

	sub := bus.Subscribe(context.Background(), events.ChannelTypingStatus)
	done := make(chan struct{})
	go func() {
		b.forwardTyping(sub)
		close(done)
	}()

	b.handleMessageEvent(context.Background(), textEvent("$1", aliceID, roomA, "Hi"))
	b.handleMessageEvent(context.Background(), textEvent("$2", aliceID, roomB, "Hello"))
	require.Eventually(t, func() bool { return len(sender.received()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(events.ChannelTypingStatus, "matrix:"+aliceID, events.TypingEvent{Typing: true}))
	require.Eventually(t, func() bool { return len(rooms.typingCalls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []typingCall{{id.RoomID(roomA), true}, {id.RoomID(roomB), true}}, rooms.typingCalls())

	// Finishing one turn clears its room and leaves the other tracked
	sender.release <- struct{}{}
	require.Eventually(t, func() bool { return len(rooms.typingCalls()) == 3 }, time.Second, 5*time.Millisecond)
	finished := rooms.typingCalls()[2]
	assert.False(t, finished.typing)
	other := id.RoomID(roomA)
	if finished.room == other {
		other = id.RoomID(roomB)
	}
	assert.Equal(t, []id.RoomID{other}, b.activeRooms("matrix:"+aliceID))

	sender.release <- struct{}{}
	b.wg.Wait()
	assert.Equal(t, typingCall{other, false}, rooms.typingCalls()[3])
	assert.Empty(t, b.activeRooms("matrix:"+aliceID))

	sub.Cancel()
	<-done
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo world", 4))
}
