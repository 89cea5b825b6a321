package centralized

import (
	"context"
	"fmt"
	"log"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/cluster"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server is the server side of the transport. It serves the intake service
// if it has an intake, and the callback service if it has a callback handler.
type Server struct {
	id poseidon.NodeID

	intake  cluster.Intake
	handler cluster.CallbackHandler

	// grpc API
	*grpc.Server
	statsHandler
}

// NewServer creates a new server with the provided handlers. Either of them can be nil.
func NewServer(id poseidon.NodeID, intake cluster.Intake, handler cluster.CallbackHandler) *Server {
	srv := new(Server)
	srv.id = id
	srv.intake = intake
	srv.handler = handler

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMsgSize),
		grpc.MaxSendMsgSize(MaxMsgSize),
		grpc.StatsHandler(&srv.statsHandler),
	}

	srv.Server = grpc.NewServer(serverOpts...)
	if intake != nil {
		srv.Server.RegisterService(&intakeServiceDesc, srv)
	}
	if handler != nil {
		srv.Server.RegisterService(&callbackServiceDesc, srv)
	}
	return srv
}

// SubmitRequest is the gRPC handler for the Submit method of the intake service.
func (srv *Server) SubmitRequest(inctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	ctx, err := poseidon.GetContextFromIncomingContext(inctx)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	req := new(cluster.Request)
	if err := fromAPI(in, req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	sender, _ := poseidon.NodeIDFromContext(ctx)
	if err := srv.intake.Submit(ctx, req); err != nil {
		srv.Logf("rejected request %s from %s: %v", req.Ref, sender, err)
		return nil, toStatus(err)
	}
	srv.Logf("accepted request %s from %s", req.Ref, sender)
	return &emptypb.Empty{}, nil
}

// DeliverCallback is the gRPC handler for the Deliver method of the callback service.
func (srv *Server) DeliverCallback(inctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	ctx, err := poseidon.GetContextFromIncomingContext(inctx)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	cb := new(cluster.Callback)
	if err := fromAPI(in, cb); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := srv.handler.Deliver(ctx, cb); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (srv *Server) Logf(msg string, v ...any) {
	log.Printf("%s | [server] %s\n", srv.id, fmt.Sprintf(msg, v...))
}
