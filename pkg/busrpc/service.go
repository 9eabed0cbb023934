package busrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tillu/branchbus/pkg/events"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "tillu.bus.v1.EventBus"

const publishMethod = "/" + ServiceName + "/Publish"

// PublishRequest carries one event envelope. Sequence and timestamp set by the
// producer are ignored; the bus assigns its own.
type PublishRequest struct {
	Event events.Envelope `json:"event"`
}

// PublishResponse reports how the bus routed the event.
type PublishResponse struct {
	Ok        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	Sequence  uint64 `json:"sequence"`
	Outcome   string `json:"outcome"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// EventBusServer is implemented by the bus ingress.
type EventBusServer interface {
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
}

// UnimplementedEventBusServer can be embedded for forward compatibility.
type UnimplementedEventBusServer struct{}

func (UnimplementedEventBusServer) Publish(context.Context, *PublishRequest) (*PublishResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Publish not implemented")
}

// RegisterEventBusServer registers srv on s.
func RegisterEventBusServer(s grpc.ServiceRegistrar, srv EventBusServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PublishRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventBusServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: publishMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventBusServer).Publish(ctx, req.(*PublishRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the EventBus service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventBusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "busrpc/service.go",
}

// EventBusClient publishes events to a bus server.
type EventBusClient interface {
	Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error)
}

type eventBusClient struct {
	cc grpc.ClientConnInterface
}

// NewEventBusClient returns a client that always uses the JSON codec.
func NewEventBusClient(cc grpc.ClientConnInterface) EventBusClient {
	return &eventBusClient{cc: cc}
}

func (c *eventBusClient) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error) {
	out := new(PublishResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, publishMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
