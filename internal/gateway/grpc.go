// ABOUTME: relay.v1.Events gRPC service streaming bus events to authenticated clients
// ABOUTME: Uses protobuf well-known types so no generated code is needed; also registers grpc health

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/events"
)

// EventsServiceName is the fully qualified gRPC service name.
const EventsServiceName = "relay.v1.Events"

// EventsSubscribeMethod is the full method name of the Subscribe stream.
const EventsSubscribeMethod = "/" + EventsServiceName + "/Subscribe"

// EventsServer is the server API for the relay.v1.Events service.
//
//	service Events {
//	  rpc Subscribe(google.protobuf.StringValue) returns (stream google.protobuf.Struct);
//	}
//
// The request value names one channel, or is empty for every channel. Each
// streamed Struct has "channel", "userId", and "payload" fields.
type EventsServer interface {
	Subscribe(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
}

func eventsSubscribeHandler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EventsServer).Subscribe(m, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

// eventsServiceDesc is the grpc.ServiceDesc for relay.v1.Events.
var eventsServiceDesc = grpc.ServiceDesc{
	ServiceName: EventsServiceName,
	HandlerType: (*EventsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       eventsSubscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/events.proto",
}

func registerEventsService(s grpc.ServiceRegistrar, srv EventsServer) {
	s.RegisterService(&eventsServiceDesc, srv)
}

// SubscribeEvents opens a relay.v1.Events/Subscribe stream on conn. The
// caller's token goes in the "authorization" metadata of ctx.
func SubscribeEvents(ctx context.Context, conn grpc.ClientConnInterface, channel string, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := conn.NewStream(ctx, &eventsServiceDesc.Streams[0], EventsSubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(wrapperspb.String(channel)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// eventsServer implements EventsServer on top of the bus.
type eventsServer struct {
	bus    *events.Bus
	logger *slog.Logger
}

func newEventsServer(bus *events.Bus, logger *slog.Logger) *eventsServer {
	return &eventsServer{bus: bus, logger: logger}
}

// Subscribe streams bus events until the client goes away or the bus closes.
func (s *eventsServer) Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	userID, err := auth.UserID(ctx)
	if err != nil {
		return status.Error(codes.Unauthenticated, auth.UnauthenticatedMessage)
	}

	channels, err := parseChannels(req.GetValue())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	s.logger.Debug("event stream opened", "user_id", userID, "channels", channels)

	sub := subscribe(ctx, s.bus, channels)
	defer sub.Cancel()

	for evt := range sub.C {
		msg, err := eventToStruct(evt)
		if err != nil {
			s.logger.Error("encoding event", "channel", evt.Channel, "error", err)
			continue
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// eventToStruct converts an event to a protobuf Struct by way of its JSON form.
func eventToStruct(evt events.Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"channel": string(evt.Channel),
		"userId":  evt.UserID,
		"payload": payload,
	})
}

// registerHealth exposes grpc.health.v1 and marks the events service serving.
func registerHealth(s *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(EventsServiceName, healthpb.HealthCheckResponse_SERVING)
}
