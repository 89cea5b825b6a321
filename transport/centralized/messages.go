package centralized

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The messages of both services are JSON documents carried in a
// BytesValue.

const (
	intakeServiceName   = "poseidon.Intake"
	callbackServiceName = "poseidon.Callback"

	submitMethod  = "/" + intakeServiceName + "/Submit"
	deliverMethod = "/" + callbackServiceName + "/Deliver"
)

// IntakeServer is the server API of the intake service.
type IntakeServer interface {
	SubmitRequest(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// CallbackServer is the server API of the callback service.
type CallbackServer interface {
	DeliverCallback(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var intakeServiceDesc = grpc.ServiceDesc{
	ServiceName: intakeServiceName,
	HandlerType: (*IntakeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(srv, ctx, dec, interceptor, submitMethod, func(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
					return srv.(IntakeServer).SubmitRequest(ctx, in)
				})
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "poseidon/intake",
}

var callbackServiceDesc = grpc.ServiceDesc{
	ServiceName: callbackServiceName,
	HandlerType: (*CallbackServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(srv, ctx, dec, interceptor, deliverMethod, func(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
					return srv.(CallbackServer).DeliverCallback(ctx, in)
				})
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "poseidon/callback",
}

func unaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor, method string, h func(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return h(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return h(ctx, req.(*wrapperspb.BytesValue))
	})
}

func toAPI(v any) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(b), nil
}

func fromAPI(in *wrapperspb.BytesValue, v any) error {
	if err := json.Unmarshal(in.GetValue(), v); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}
