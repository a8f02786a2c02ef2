// ABOUTME: HTTP API handlers for accounts and the chat pipeline
// ABOUTME: Provides sign-up/sign-in, POST /chat/message with idempotent replays, and GET /chat/history

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/samber/lo"
	"github.com/yuin/goldmark"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/conversation"
	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/store"
)

// maxBodyBytes caps request bodies on JSON endpoints.
const maxBodyBytes = 64 * 1024

// IdempotencyHeader names the optional request header that makes
// POST /chat/message safe to retry.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from the idempotency cache.
const ReplayedHeader = "Idempotent-Replayed"

// SendMessageRequest is the JSON request body for POST /chat/message.
type SendMessageRequest struct {
	Message string `json:"message" validate:"notblank"`
}

// requestValidator checks decoded request bodies.
var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// HistoryEntry is one turn as returned by the API.
type HistoryEntry struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	HTML      string    `json:"html,omitempty"`
}

// SendMessageResponse is the JSON response for POST /chat/message.
type SendMessageResponse struct {
	BotResponse string         `json:"botResponse"`
	History     []HistoryEntry `json:"history"`
}

// HistoryResponse is the JSON response for GET /chat/history.
type HistoryResponse struct {
	History []HistoryEntry `json:"history"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionResponse is returned by sign-up and sign-in.
type SessionResponse struct {
	User      UserResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func toUserResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

func toHistory(msgs []*store.Message) []HistoryEntry {
	return lo.Map(msgs, func(m *store.Message, _ int) HistoryEntry {
		return HistoryEntry{Author: string(m.Author), Content: m.Content, CreatedAt: m.CreatedAt}
	})
}

// handleSignUp handles POST /auth/signup.
func (g *Gateway) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := g.accounts.SignUp(r.Context(), creds)
	switch {
	case errors.Is(err, auth.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrUserExists):
		g.sendJSONError(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		g.logger.Error("sign-up failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.sendJSON(w, http.StatusCreated, toSessionResponse(session))
}

// handleSignIn handles POST /auth/signin.
func (g *Gateway) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := g.accounts.SignIn(r.Context(), creds)
	switch {
	case errors.Is(err, auth.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		g.sendJSONError(w, http.StatusUnauthorized, "invalid email or password")
		return
	case err != nil:
		g.logger.Error("sign-in failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.sendJSON(w, http.StatusOK, toSessionResponse(session))
}

// handleSignOut handles POST /auth/signout. Tokens are stateless, so the
// client discarding its token is the whole sign-out.
func (g *Gateway) handleSignOut(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleMe handles GET /auth/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}

	user, err := g.accounts.Me(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}
	if err != nil {
		g.logger.Error("loading user failed", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]UserResponse{"user": toUserResponse(user)})
}

// handleSendMessage handles POST /chat/message.
//
// With an Idempotency-Key header the first request runs the pipeline and
// its response is remembered; replays get that response back with
// Idempotent-Replayed: true, or 409 while the first is still running.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := requestValidator.Struct(req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	var cacheKey string
	if key := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); key != "" {
		cacheKey = userID + "\x00" + key
		cached, state := g.idempotency.Begin(cacheKey)
		switch state {
		case dedupe.StatePending:
			g.sendJSONError(w, http.StatusConflict, "a request with this idempotency key is still in progress")
			return
		case dedupe.StateDone:
			w.Header().Set(ReplayedHeader, "true")
			g.sendJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := g.conversation.SendMessage(r.Context(), userID, req.Message)
	if err != nil {
		if cacheKey != "" {
			g.idempotency.Abandon(cacheKey)
		}
		g.sendPipelineError(w, userID, err)
		return
	}

	resp := SendMessageResponse{
		BotResponse: result.BotResponse,
		History:     toHistory(result.History),
	}
	if cacheKey != "" {
		g.idempotency.Complete(cacheKey, resp)
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) sendPipelineError(w http.ResponseWriter, userID string, err error) {
	var persistErr *conversation.PersistenceError
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
	case errors.As(err, &persistErr):
		g.logger.Error("message not stored", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "could not store message, try again")
	default:
		g.logger.Error("send message failed", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleHistory handles GET /chat/history. ?format=html adds rendered
// markdown for each entry.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, auth.UnauthenticatedMessage)
		return
	}

	history := toHistory(g.conversation.GetHistory(r.Context(), userID))

	if r.URL.Query().Get("format") == "html" {
		for i := range history {
			rendered, err := renderMarkdown(history[i].Content)
			if err != nil {
				g.logger.Warn("markdown render failed", "user_id", userID, "error", err)
				continue
			}
			history[i].HTML = rendered
		}
	}

	g.sendJSON(w, http.StatusOK, HistoryResponse{History: history})
}

// renderMarkdown converts a message to HTML. Raw HTML in the source is
// omitted by goldmark's default renderer.
func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", g.config.Database.Driver)
}

func toSessionResponse(s *auth.Session) SessionResponse {
	return SessionResponse{
		User:      toUserResponse(s.User),
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
