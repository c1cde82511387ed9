package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "trustvault.v1.TrustVault"

func methodName(name string) string {
	return "/" + ServiceName + "/" + name
}

// trustVaultServer is the set of unary calls served by Server.
type trustVaultServer interface {
	Signup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Rotate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEpochs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportPublicKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateSecuritySettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Verify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Tombstone(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Fetch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DownloadURL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyChain(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(trustVaultServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(trustVaultServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: methodName(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(trustVaultServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*trustVaultServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Signup", trustVaultServer.Signup),
		unaryMethod("Login", trustVaultServer.Login),
		unaryMethod("Rotate", trustVaultServer.Rotate),
		unaryMethod("ListEpochs", trustVaultServer.ListEpochs),
		unaryMethod("ExportPublicKey", trustVaultServer.ExportPublicKey),
		unaryMethod("UpdateSecuritySettings", trustVaultServer.UpdateSecuritySettings),
		unaryMethod("Submit", trustVaultServer.Submit),
		unaryMethod("Verify", trustVaultServer.Verify),
		unaryMethod("Tombstone", trustVaultServer.Tombstone),
		unaryMethod("ListRecords", trustVaultServer.ListRecords),
		unaryMethod("Fetch", trustVaultServer.Fetch),
		unaryMethod("DownloadURL", trustVaultServer.DownloadURL),
		unaryMethod("VerifyChain", trustVaultServer.VerifyChain),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trustvault/v1/trustvault.proto",
}
