package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"alerttrader/internal/httpapi"
)

// Full method names of the Intents service.
const (
	intentsServiceName   = "alerttrader.v1.Intents"
	processFullMethod    = "/" + intentsServiceName + "/Process"
	versionFullMethod    = "/" + intentsServiceName + "/Version"
	intentsProtoMetadata = "alerttrader/v1/intents.proto"
)

// IntentsServer is the server API of the Intents service. Messages are
// google.protobuf.Struct values carrying the same fields as the REST API.
type IntentsServer interface {
	Process(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Version(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// IntentService implements IntentsServer on top of the engine.
type IntentService struct {
	engine  httpapi.Engine
	version string
	brokers []string
}

// NewIntentService creates an IntentService backed by the given engine.
func NewIntentService(engine httpapi.Engine, version string, brokers []string) *IntentService {
	return &IntentService{engine: engine, version: version, brokers: brokers}
}

// Process decodes an intent request and dispatches it.
func (s *IntentService) Process(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req httpapi.IntentRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, statusFromError(err)
	}
	results, err := httpapi.Dispatch(ctx, s.engine, req)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(httpapi.IntentResponse{Results: results})
}

// Version reports the server version and registered brokers.
func (s *IntentService) Version(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(httpapi.VersionResponse{Version: s.version, Brokers: s.brokers})
}

// RegisterIntentsServer registers srv on s.
func RegisterIntentsServer(s grpc.ServiceRegistrar, srv IntentsServer) {
	s.RegisterService(&intentsServiceDesc, srv)
}

var intentsServiceDesc = grpc.ServiceDesc{
	ServiceName: intentsServiceName,
	HandlerType: (*IntentsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Process", Handler: unaryHandler(processFullMethod, IntentsServer.Process)},
		{MethodName: "Version", Handler: unaryHandler(versionFullMethod, IntentsServer.Version)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: intentsProtoMetadata,
}

type structMethod func(IntentsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IntentsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IntentsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// IntentsClient is the client API of the Intents service.
type IntentsClient struct {
	cc grpc.ClientConnInterface
}

// NewIntentsClient wraps a connection.
func NewIntentsClient(cc grpc.ClientConnInterface) *IntentsClient {
	return &IntentsClient{cc: cc}
}

// Process sends one intent request.
func (c *IntentsClient) Process(ctx context.Context, req httpapi.IntentRequest, opts ...grpc.CallOption) (httpapi.IntentResponse, error) {
	var resp httpapi.IntentResponse
	in, err := toStruct(req)
	if err != nil {
		return resp, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, processFullMethod, in, out, opts...); err != nil {
		return resp, err
	}
	err = fromStruct(out, &resp)
	return resp, err
}

// Version asks the server for its version.
func (c *IntentsClient) Version(ctx context.Context, opts ...grpc.CallOption) (httpapi.VersionResponse, error) {
	var resp httpapi.VersionResponse
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, versionFullMethod, &structpb.Struct{}, out, opts...); err != nil {
		return resp, err
	}
	err := fromStruct(out, &resp)
	return resp, err
}
