package poseidon

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/grpc/metadata"
)

// NodeID is the unique identifier of a node.
type NodeID string

type ctxKey string

var (
	// CtxNodeID is the context key for the node id.
	CtxNodeID ctxKey = "node_id"
	// CtxCircuit is the context key for the name of the circuit a call relates to.
	CtxCircuit ctxKey = "circuit"
	// CtxOffset is the context key for the computation offset a call relates to.
	CtxOffset ctxKey = "offset"
)

// NewBackgroundContext returns a new background context with the node id set.
func NewBackgroundContext(nid NodeID) context.Context {
	return ContextWithNodeID(context.Background(), nid)
}

// ContextWithNodeID returns a new context derived from ctx with the given node id.
func ContextWithNodeID(ctx context.Context, nid NodeID) context.Context {
	return context.WithValue(ctx, CtxNodeID, nid)
}

// NodeIDFromContext returns the node id from the context.
func NodeIDFromContext(ctx context.Context) (NodeID, bool) {
	nid, ok := ctx.Value(CtxNodeID).(NodeID)
	return nid, ok
}

// ContextWithComputation returns a new context derived from ctx with the given circuit name and offset.
func ContextWithComputation(ctx context.Context, circuit string, offset uint64) context.Context {
	return context.WithValue(context.WithValue(ctx, CtxCircuit, circuit), CtxOffset, offset)
}

// ComputationFromContext returns the circuit name and offset from the context.
func ComputationFromContext(ctx context.Context) (circuit string, offset uint64, ok bool) {
	circuit, okc := ctx.Value(CtxCircuit).(string)
	offset, oko := ctx.Value(CtxOffset).(uint64)
	return circuit, offset, okc && oko
}

// GetOutgoingContext returns a gRPC outgoing context carrying the values of ctx
// as metadata. The node id is required.
func GetOutgoingContext(ctx context.Context) (context.Context, error) {
	md := metadata.New(nil)

	if nid, has := NodeIDFromContext(ctx); has {
		md.Append(string(CtxNodeID), string(nid))
	} else {
		return nil, fmt.Errorf("outgoing context must have a node id")
	}

	if circuit, offset, has := ComputationFromContext(ctx); has {
		md.Append(string(CtxCircuit), circuit)
		md.Append(string(CtxOffset), strconv.FormatUint(offset, 10))
	}

	return metadata.NewOutgoingContext(ctx, md), nil
}

// GetContextFromIncomingContext returns a context carrying the values of the
// metadata of a gRPC incoming context. The node id is required.
func GetContextFromIncomingContext(inctx context.Context) (ctx context.Context, err error) {
	nid := valueFromIncomingContext(inctx, string(CtxNodeID))
	if len(nid) == 0 {
		return nil, fmt.Errorf("invalid incoming context: missing node id")
	}
	ctx = ContextWithNodeID(inctx, NodeID(nid))

	if circuit := valueFromIncomingContext(inctx, string(CtxCircuit)); len(circuit) != 0 {
		offset, err := strconv.ParseUint(valueFromIncomingContext(inctx, string(CtxOffset)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid incoming context: bad offset: %w", err)
		}
		ctx = ContextWithComputation(ctx, circuit, offset)
	}
	return ctx, nil
}

func valueFromIncomingContext(ctx context.Context, key string) string {
	md, hasMd := metadata.FromIncomingContext(ctx)
	if !hasMd {
		return ""
	}
	id := md.Get(key)
	if len(id) < 1 {
		return ""
	}
	return id[0]
}
