// Package centralized defines the client-server transport between the
// computation service and the secure-computation cluster. It is based on
// gRPC: the cluster serves the intake service, to which the computation
// service submits requests, and the computation service serves the callback
// service, to which the cluster delivers signed outputs.
package centralized

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/services/compute"
	"github.com/ldsec/poseidon/utils"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	MaxMsgSize           = 1024 * 1024 * 4
	ClientConnectTimeout = 3 * time.Second
)

// Dialer is a function that returns a net.Conn to the provided address.
type Dialer = func(c context.Context, addr string) (net.Conn, error)

// ServiceStats contains the network statistics of a service.
type ServiceStats struct {
	DataSent, DataRecv uint64
}

// String returns a string representation of the network statistics.
func (s ServiceStats) String() string {
	return fmt.Sprintf("Sent: %s, Received: %s", utils.ByteCountSI(s.DataSent), utils.ByteCountSI(s.DataRecv))
}

// NetStats contains the network statistics of a connection, per service.
type NetStats struct {
	Intake, Callback, Others ServiceStats
}

func (ns NetStats) String() string {
	return fmt.Sprintf("NetStats:\n\tIntake: %s\n\tCallback: %s\n\tOthers: %s", ns.Intake, ns.Callback, ns.Others)
}

// toStatus maps the errors of the handlers to gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, compute.ErrAborted):
		code = codes.Aborted
	case errors.Is(err, compute.ErrNotPending), errors.Is(err, compute.ErrCollision):
		code = codes.FailedPrecondition
	case errors.Is(err, poseidon.ErrAddressMismatch):
		code = codes.PermissionDenied
	case errors.Is(err, compute.ErrUnknownCircuit):
		code = codes.NotFound
	case errors.Is(err, compute.ErrMalformedArgs):
		code = codes.InvalidArgument
	case errors.Is(err, cluster.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
