package centralized

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/cluster"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client is the client side of the transport. It implements cluster.Intake
// towards a server with an intake, and cluster.CallbackHandler towards a
// server with a callback handler.
type Client struct {
	id      poseidon.NodeID
	address string

	*grpc.ClientConn
	statsHandler
}

// NewClient creates a new client for the server at address.
func NewClient(id poseidon.NodeID, address string) *Client {
	return &Client{id: id, address: address}
}

// Connect establishes a connection to the server.
func (c *Client) Connect() error {
	return c.ConnectWithDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
}

// ConnectWithDialer establishes a connection to the server using the provided dialer.
func (c *Client) ConnectWithDialer(dialer Dialer) error {
	opts := []grpc.DialOption{
		grpc.WithContextDialer(dialer),
		grpc.WithBlock(),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 1 * time.Second}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMsgSize),
			grpc.MaxCallSendMsgSize(MaxMsgSize)),
		grpc.WithStatsHandler(&c.statsHandler),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ClientConnectTimeout)
	defer cancel()
	var err error
	c.ClientConn, err = grpc.DialContext(ctx, c.address, opts...)
	if err != nil {
		return fmt.Errorf("fail establish connection to tcp://%s: %w", c.address, err)
	}
	return nil
}

// Disconnect closes the connection to the server.
func (c *Client) Disconnect() error {
	return c.ClientConn.Close()
}

func (c *Client) outgoingContext(ctx context.Context) (context.Context, error) {
	return poseidon.GetOutgoingContext(poseidon.ContextWithNodeID(ctx, c.id))
}

func (c *Client) invoke(ctx context.Context, method string, msg any) error {
	in, err := toAPI(msg)
	if err != nil {
		return err
	}
	octx, err := c.outgoingContext(ctx)
	if err != nil {
		return err
	}
	return c.ClientConn.Invoke(octx, method, in, new(emptypb.Empty))
}

// Submit sends a computation request to the intake service.
func (c *Client) Submit(ctx context.Context, req *cluster.Request) error {
	return c.invoke(poseidon.ContextWithComputation(ctx, string(req.Circuit), req.Ref.Offset), submitMethod, req)
}

// Deliver sends a computation output to the callback service.
func (c *Client) Deliver(ctx context.Context, cb *cluster.Callback) error {
	return c.invoke(poseidon.ContextWithComputation(ctx, string(cb.Circuit), cb.Offset), deliverMethod, cb)
}
