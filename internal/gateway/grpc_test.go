// ABOUTME: Tests for the relay.v1.Events gRPC stream and grpc health service
// ABOUTME: Runs the gateway's gRPC server over an in-memory bufconn listener

package gateway

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/relay-gateway/internal/events"
)

// dialGateway serves gw's gRPC server on a bufconn listener and returns a client.
func dialGateway(t *testing.T, gw *Gateway) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gw.grpcServer.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func TestGRPCSubscribe_ReceivesEvents(t *testing.T) {
	gw, _ := newTestGateway(t)
	userID, token := signUp(t, gw, "ada@example.com")
	conn := dialGateway(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := SubscribeEvents(withToken(ctx, token), conn, string(events.ChannelMessageSent))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return gw.bus.SubscriberCount(events.ChannelMessageSent) > 0
	}, 2*time.Second, 5*time.Millisecond)

	rec := do(t, gw, http.MethodPost, "/chat/message", token, SendMessageRequest{Message: "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	first, err := stream.Recv()
	require.NoError(t, err)
	fields := first.AsMap()
	assert.Equal(t, "message-sent", fields["channel"])
	assert.Equal(t, userID, fields["userId"])
	assert.Equal(t, map[string]any{"formattedText": "User: Hi", "userId": userID}, fields["payload"])

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Bot: Hello!", second.AsMap()["payload"].(map[string]any)["formattedText"])
}

func TestGRPCSubscribe_EndsOnBusClose(t *testing.T) {
	gw, _ := newTestGateway(t)
	_, token := signUp(t, gw, "ada@example.com")
	conn := dialGateway(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := SubscribeEvents(withToken(ctx, token), conn, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return gw.bus.SubscriberCount(events.ChannelTypingStatus) > 0
	}, 2*time.Second, 5*time.Millisecond)

	gw.bus.Close()

	_, err = stream.Recv()
	assert.Error(t, err)
	assert.NotEqual(t, codes.DeadlineExceeded, status.Code(err))
}

func TestGRPCSubscribe_Errors(t *testing.T) {
	gw, _ := newTestGateway(t)
	_, token := signUp(t, gw, "ada@example.com")
	conn := dialGateway(t, gw)

	tests := []struct {
		name     string
		token    string
		channel  string
		wantCode codes.Code
	}{
		{"no token", "", "", codes.Unauthenticated},
		{"bad token", "not-a-jwt", "", codes.Unauthenticated},
		{"unknown channel", token, "presence", codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if tt.token != "" {
				ctx = withToken(ctx, tt.token)
			}

			stream, err := SubscribeEvents(ctx, conn, tt.channel)
			if err == nil {
				_, err = stream.Recv()
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, status.Code(err))
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	gw, _ := newTestGateway(t)
	conn := dialGateway(t, gw)
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, service := range []string{"", EventsServiceName} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err, service)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), service)
	}
}

func TestEventToStruct(t *testing.T) {
	s, err := eventToStruct(events.Event{
		Channel: events.ChannelTypingStatus,
		UserID:  "u1",
		Payload: events.TypingEvent{Typing: true},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"channel": "typing-status",
		"userId":  "u1",
		"payload": map[string]any{"typing": true},
	}, s.AsMap())

	_, err = eventToStruct(events.Event{Channel: events.ChannelTypingStatus, Payload: "not an object"})
	assert.Error(t, err)
}
