// ABOUTME: Identity context for tracking the resolved user through handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated means no identity could be resolved for the caller.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity sources
const (
	SourceJWT    = "jwt"
	SourceMatrix = "matrix"
)

// Identity is the resolved caller. UserID keys the caller's conversation.
type Identity struct {
	UserID string
	Email  string // empty for identities that aren't registered accounts
	Source string // SourceJWT or SourceMatrix
}

type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// UserID returns the caller's user ID or ErrUnauthenticated.
func UserID(ctx context.Context) (string, error) {
	id := FromContext(ctx)
	if id == nil || id.UserID == "" {
		return "", ErrUnauthenticated
	}
	return id.UserID, nil
}

// MatrixUserID is the conversation owner for a Matrix sender.
func MatrixUserID(sender string) string {
	return SourceMatrix + ":" + sender
}
