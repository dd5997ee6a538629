// Package grpctransport serves the Fetch service over gRPC and provides a gRPC client
// channel, wire compatible with the protobuf definition
//
//	package rpc;
//	message Payload { bytes data = 1; }
//	service Fetch { rpc Capitalize(Payload) returns (Payload); }
//
// The service descriptor is written by hand: the one message type is encoded with
// protowire by message.Payload.
package grpctransport

import (
	"context"
	"strings"

	"google.golang.org/grpc"

	"capitalize/message"
	"capitalize/service"
)

// ProtoPackage is the protobuf package of the Fetch service.
const ProtoPackage = "rpc"

// FullMethodCapitalize is the gRPC method name of Fetch.Capitalize.
const FullMethodCapitalize = "/" + ProtoPackage + "." + service.ServiceName + "/" + service.MethodCapitalize

// FetchServer is implemented by *service.Fetch.
type FetchServer interface {
	Capitalize(ctx context.Context, req *message.Payload) (*message.Payload, error)
}

var FetchServiceDesc = grpc.ServiceDesc{
	ServiceName: ProtoPackage + "." + service.ServiceName,
	HandlerType: (*FetchServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: service.MethodCapitalize,
			Handler:    capitalizeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpc.proto",
}

// RegisterFetchServer registers srv on s.
func RegisterFetchServer(s grpc.ServiceRegistrar, srv FetchServer) {
	s.RegisterService(&FetchServiceDesc, srv)
}

func capitalizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.Payload)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FetchServer).Capitalize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FullMethodCapitalize,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FetchServer).Capitalize(ctx, req.(*message.Payload))
	}
	return interceptor(ctx, in, info, handler)
}

// fullMethod maps a framed ServiceMethod ("Fetch.Capitalize") to its gRPC name
// ("/rpc.Fetch/Capitalize").
func fullMethod(serviceMethod string) string {
	svc, method, ok := strings.Cut(serviceMethod, ".")
	if !ok {
		return "/" + ProtoPackage + "." + serviceMethod
	}
	return "/" + ProtoPackage + "." + svc + "/" + method
}

// serviceMethod is the inverse of fullMethod, used to label gRPC calls in middlewares.
func serviceMethod(fullMethod string) string {
	s := strings.TrimPrefix(fullMethod, "/"+ProtoPackage+".")
	return strings.Replace(s, "/", ".", 1)
}
