// ABOUTME: Tests for account sign-up, sign-in, and token issuing
// ABOUTME: Runs against the in-memory user store

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/store"
)

func newTestService(t *testing.T) (*Service, *JWTVerifier) {
	t.Helper()
	verifier := newTestVerifier(t)
	return NewService(store.NewMemoryStore(), verifier, time.Hour, nil), verifier
}

func TestService_SignUpIssuesVerifiableToken(t *testing.T) {
	svc, verifier := newTestService(t)

	session, err := svc.SignUp(context.Background(), Credentials{Email: " Alice@Example.com ", Password: "hunter22!"})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", session.User.Email)
	assert.NotEmpty(t, session.User.ID)
	assert.NotEqual(t, "hunter22!", session.User.PasswordHash)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, time.Minute)

	userID, err := verifier.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, userID)
}

func TestService_SignUpDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, Credentials{Email: "alice@example.com", Password: "hunter22!"})
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, Credentials{Email: "ALICE@example.com", Password: "different1"})
	assert.ErrorIs(t, err, store.ErrUserExists)
}

func TestService_SignUpValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name    string
		creds   Credentials
		message string
	}{
		{"missing email", Credentials{Password: "hunter22!"}, "email is required"},
		{"bad email", Credentials{Email: "not-an-email", Password: "hunter22!"}, "email must be a valid email address"},
		{"short password", Credentials{Email: "a@example.com", Password: "short"}, "password must be at least 8 characters"},
		{"long password", Credentials{Email: "a@example.com", Password: string(make([]byte, 73))}, "password must be at most 72 characters"},
		{"multibyte password over 72 bytes", Credentials{Email: "a@example.com", Password: strings.Repeat("é", 40)}, "password must be at most 72 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(context.Background(), tt.creds)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestService_SignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	signedUp, err := svc.SignUp(ctx, Credentials{Email: "alice@example.com", Password: "hunter22!"})
	require.NoError(t, err)

	session, err := svc.SignIn(ctx, Credentials{Email: "Alice@Example.com", Password: "hunter22!"})
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, session.User.ID)
	assert.NotEmpty(t, session.Token)
}

func TestService_SignInFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, Credentials{Email: "alice@example.com", Password: "hunter22!"})
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, Credentials{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, Credentials{Email: "nobody@example.com", Password: "hunter22!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_MeAndIssueToken(t *testing.T) {
	svc, verifier := newTestService(t)
	ctx := context.Background()

	signedUp, err := svc.SignUp(ctx, Credentials{Email: "alice@example.com", Password: "hunter22!"})
	require.NoError(t, err)

	me, err := svc.Me(ctx, signedUp.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)

	session, err := svc.IssueToken(ctx, signedUp.User.ID)
	require.NoError(t, err)
	userID, err := verifier.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, userID)

	_, err = svc.IssueToken(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewService_DefaultTTL(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), newTestVerifier(t), 0, nil)
	assert.Equal(t, DefaultTokenTTL, svc.ttl)
}
