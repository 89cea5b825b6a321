package centralized

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/grpc/stats"
)

type ctxKey string

var ctxService ctxKey = "service"

type statsHandler struct {
	mu sync.Mutex
	NetStats
}

// TagRPC attaches the name of the called service to the context.
func (s *statsHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	// full method names are /<service>/<method>
	if parts := strings.Split(info.FullMethodName, "/"); len(parts) == 3 {
		ctx = context.WithValue(ctx, ctxService, parts[1])
	}
	return ctx
}

// HandleRPC processes the RPC stats.
func (s *statsHandler) HandleRPC(ctx context.Context, sta stats.RPCStats) {
	var ns *ServiceStats
	switch ctx.Value(ctxService) {
	case intakeServiceName:
		ns = &s.Intake
	case callbackServiceName:
		ns = &s.Callback
	default:
		ns = &s.Others
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch sta := sta.(type) {
	case *stats.InPayload:
		ns.DataRecv += uint64(sta.WireLength)
	case *stats.OutPayload:
		ns.DataSent += uint64(sta.WireLength)
	}
}

// TagConn can attach some information to the given context.
func (s *statsHandler) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context {
	return ctx
}

// HandleConn processes the Conn stats.
func (s *statsHandler) HandleConn(_ context.Context, _ stats.ConnStats) {}

// GetStats returns the network statistics.
func (s *statsHandler) GetStats() NetStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NetStats
}
