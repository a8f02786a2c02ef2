// ABOUTME: Tests for the gRPC stream auth interceptor
// ABOUTME: Covers metadata extraction, token failures, user lookup, and the health exemption

package auth

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/relay-gateway/internal/store"
)

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context {
	return m.ctx
}

func runStream(t *testing.T, interceptor grpc.StreamServerInterceptor, method string, md metadata.MD) (*Identity, error) {
	t.Helper()
	ctx := context.Background()
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}

	var got *Identity
	handler := func(srv any, ss grpc.ServerStream) error {
		got = FromContext(ss.Context())
		return nil
	}
	err := interceptor(nil, &mockServerStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: method}, handler)
	return got, err
}

func TestStreamInterceptor_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	users := store.NewMemoryStore()
	seedUser(t, users, "user-123")
	token, _ := verifier.Generate("user-123", time.Hour)

	got, err := runStream(t, StreamInterceptor(verifier, users, nil), "/relay.v1.Events/Subscribe",
		metadata.Pairs("authorization", "Bearer "+token))

	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if got == nil || got.UserID != "user-123" {
		t.Fatalf("expected identity user-123, got %+v", got)
	}
}

func TestStreamInterceptor_Unauthenticated(t *testing.T) {
	verifier := newTestVerifier(t)
	users := store.NewMemoryStore()
	seedUser(t, users, "user-123")
	expired, _ := verifier.Generate("user-123", -time.Hour)
	ghost, _ := verifier.Generate("ghost", time.Hour)

	tests := []struct {
		name string
		md   metadata.MD
	}{
		{"no metadata", nil},
		{"no authorization", metadata.Pairs("x-other", "1")},
		{"bad scheme", metadata.Pairs("authorization", "Token abc")},
		{"garbage token", metadata.Pairs("authorization", "Bearer abc")},
		{"expired token", metadata.Pairs("authorization", "Bearer "+expired)},
		{"unknown user", metadata.Pairs("authorization", "Bearer "+ghost)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runStream(t, StreamInterceptor(verifier, users, nil), "/relay.v1.Events/Subscribe", tt.md)
			if status.Code(err) != codes.Unauthenticated {
				t.Errorf("code = %v, want Unauthenticated (err=%v)", status.Code(err), err)
			}
			if got != nil {
				t.Error("handler should not run")
			}
		})
	}
}

func TestStreamInterceptor_HealthIsOpen(t *testing.T) {
	verifier := newTestVerifier(t)

	_, err := runStream(t, StreamInterceptor(verifier, nil, nil), "/grpc.health.v1.Health/Watch", nil)
	if err != nil {
		t.Errorf("health watch should not require auth, got %v", err)
	}
}
