// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the user identity to context

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/relay-gateway/internal/store"
)

// UnauthenticatedMessage is the error body for requests without an identity.
const UnauthenticatedMessage = "User must be logged in to view messages"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// writeUnauthorized sends the 401 body every protected route shares.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": UnauthenticatedMessage})
}

// writeUnavailable answers 503 when the identity could not be checked.
func writeUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
}

// RequireUser creates an HTTP middleware that resolves the caller from a
// bearer JWT. Requests without a valid token, or whose user no longer
// exists, get 401 before reaching the handler. A user lookup that fails for
// any other reason gets 503. users may be nil to skip the existence check.
func RequireUser(verifier TokenVerifier, users store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolveHTTP(r, verifier, users)
			if errors.Is(err, ErrUnauthenticated) {
				writeUnauthorized(w)
				return
			}
			if err != nil {
				// The caller may be fine; the store is not
				slog.Error("resolving user failed", "component", "auth", "error", err)
				writeUnavailable(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func resolveHTTP(r *http.Request, verifier TokenVerifier, users store.UserStore) (*Identity, error) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		// EventSource can't set headers, so SSE clients pass the token as a query param
		token = r.URL.Query().Get("access_token")
		if token == "" {
			return nil, ErrUnauthenticated
		}
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	id := &Identity{UserID: userID, Source: SourceJWT}
	if users == nil {
		return id, nil
	}

	user, err := users.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("loading user %s: %w", userID, err)
	}
	id.Email = user.Email
	return id, nil
}
