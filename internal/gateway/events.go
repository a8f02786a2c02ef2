// ABOUTME: Server-Sent Events stream of bus events for HTTP clients
// ABOUTME: Serves GET /chat/events scoped to the caller, with channel and scope filters

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/events"
)

// sseKeepAlive is how often an idle stream gets a comment line so proxies
// don't time it out.
var sseKeepAlive = 15 * time.Second

// parseChannels maps the ?channel= value to the channels to subscribe to.
// Empty means every channel.
func parseChannels(raw string) ([]events.Channel, error) {
	if raw == "" {
		return events.Channels, nil
	}
	ch := events.Channel(raw)
	if !ch.Valid() {
		return nil, fmt.Errorf("unknown channel %q", raw)
	}
	return []events.Channel{ch}, nil
}

// parseScope maps ?scope= to whether the stream is limited to the caller.
// The default is the caller's own conversation; "all" opts into every user's.
func parseScope(raw string) (mine bool, err error) {
	switch raw {
	case "", "mine":
		return true, nil
	case "all":
		return false, nil
	default:
		return false, fmt.Errorf("unknown scope %q", raw)
	}
}

// subscribe registers one subscription covering channels, so events arrive
// in the order they were published across all of them.
func subscribe(ctx context.Context, bus *events.Bus, channels []events.Channel) *events.Subscription {
	return bus.Subscribe(ctx, channels[0], channels[1:]...)
}

// handleEvents handles GET /chat/events. The caller's typing-status and
// message-sent events are streamed as they are published; ?channel= restricts
// the stream to one channel and ?scope=all widens it to every user.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}

	channels, err := parseChannels(r.URL.Query().Get("channel"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	mine, err := parseScope(r.URL.Query().Get("scope"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := subscribe(ctx, g.bus, channels)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscriptions are live once this line is out
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	g.logger.Debug("event stream opened", "user_id", userID, "channels", channels, "mine", mine)

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if mine && evt.UserID != userID {
				continue
			}
			g.writeSSEEvent(w, string(evt.Channel), evt.Payload)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
