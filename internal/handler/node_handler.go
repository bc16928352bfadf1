package handler

import (
	"context"
	stderrors "errors"

	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/service"
	"github.com/devrev/ndckv/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// NodeService is the server side of the ndckv.Node gRPC service
type NodeService interface {
	Fetch(ctx context.Context, req *wire.FetchRequest) (*wire.ObjectResponse, error)
	Update(ctx context.Context, req *wire.UpdateRequest) (*wire.ObjectResponse, error)
	SendUpdate(ctx context.Context, req *wire.UpdateRequest) (*wire.Empty, error)
	SyncClock(ctx context.Context, req *wire.SyncClockRequest) (*wire.SyncClockResponse, error)
	Get(ctx context.Context, req *wire.GetRequest) (*wire.GetResponse, error)
	Put(ctx context.Context, req *wire.PutRequest) (*wire.Empty, error)
	Delete(ctx context.Context, req *wire.DeleteRequest) (*wire.Empty, error)
}

// ServiceDesc describes ndckv.Node for grpc.Server.RegisterService. Messages
// use the ndcwire codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*NodeService)(nil),
	Methods: []grpc.MethodDesc{
		unary(wire.MethodFetch, NodeService.Fetch),
		unary(wire.MethodUpdate, NodeService.Update),
		unary(wire.MethodSendUpdate, NodeService.SendUpdate),
		unary(wire.MethodSyncClock, NodeService.SyncClock),
		unary(wire.MethodGet, NodeService.Get),
		unary(wire.MethodPut, NodeService.Put),
		unary(wire.MethodDelete, NodeService.Delete),
	},
	Metadata: "ndckv/node",
}

// unary builds the method descriptor of one request/response call
func unary[Req any, PReq interface {
	*Req
	wire.Message
}, Resp wire.Message](method string, call func(NodeService, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(NodeService), ctx, req.(PReq))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.FullMethod(method)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// NodeHandler serves ndckv.Node from a local node
type NodeHandler struct {
	node   *service.Node
	logger *zap.Logger
}

var _ NodeService = (*NodeHandler)(nil)

// NewNodeHandler creates a new node handler
func NewNodeHandler(node *service.Node, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{node: node, logger: logger}
}

// Register adds the service to s
func (h *NodeHandler) Register(s *grpc.Server) {
	s.RegisterService(&ServiceDesc, h)
}

// Fetch handles replica reads
func (h *NodeHandler) Fetch(ctx context.Context, req *wire.FetchRequest) (*wire.ObjectResponse, error) {
	o, err := h.node.Fetch(ctx, req.Key, req.Mode)
	if err != nil {
		return nil, h.toStatus(ctx, wire.MethodFetch, err)
	}
	return &wire.ObjectResponse{Object: o}, nil
}

// Update handles replication that waits for the merged object
func (h *NodeHandler) Update(ctx context.Context, req *wire.UpdateRequest) (*wire.ObjectResponse, error) {
	o, err := h.node.Update(ctx, req.Key, req.Object)
	if err != nil {
		return nil, h.toStatus(ctx, wire.MethodUpdate, err)
	}
	return &wire.ObjectResponse{Object: o}, nil
}

// SendUpdate handles fire-and-forget replication
func (h *NodeHandler) SendUpdate(ctx context.Context, req *wire.UpdateRequest) (*wire.Empty, error) {
	if err := h.node.SendUpdate(ctx, req.Key, req.Object); err != nil {
		return nil, h.toStatus(ctx, wire.MethodSendUpdate, err)
	}
	return &wire.Empty{}, nil
}

// SyncClock handles anti-entropy probes
func (h *NodeHandler) SyncClock(ctx context.Context, req *wire.SyncClockRequest) (*wire.SyncClockResponse, error) {
	resp, err := h.node.SyncClock(ctx, &req.Request)
	if err != nil {
		return nil, h.toStatus(ctx, wire.MethodSyncClock, err)
	}
	return &wire.SyncClockResponse{Response: *resp}, nil
}

// Get handles client reads
func (h *NodeHandler) Get(ctx context.Context, req *wire.GetRequest) (*wire.GetResponse, error) {
	values, cc, err := h.node.Get(ctx, req.Key, req.Quorum, req.Mode)
	if err != nil {
		return nil, h.toStatus(ctx, wire.MethodGet, err)
	}
	return &wire.GetResponse{Values: values, CausalContext: cc}, nil
}

// Put handles client writes
func (h *NodeHandler) Put(ctx context.Context, req *wire.PutRequest) (*wire.Empty, error) {
	if err := h.node.Put(ctx, req.Key, req.Value, req.CausalContext, nil); err != nil {
		return nil, h.toStatus(ctx, wire.MethodPut, err)
	}
	return &wire.Empty{}, nil
}

// Delete handles client deletes
func (h *NodeHandler) Delete(ctx context.Context, req *wire.DeleteRequest) (*wire.Empty, error) {
	if err := h.node.Delete(ctx, req.Key, req.CausalContext, nil); err != nil {
		return nil, h.toStatus(ctx, wire.MethodDelete, err)
	}
	return &wire.Empty{}, nil
}

// toStatus maps a node error to the status returned to the caller
func (h *NodeHandler) toStatus(ctx context.Context, method string, err error) error {
	if ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		return status.FromContextError(err).Err()
	}

	re := errors.FromGRPC(err)
	switch re.Code {
	case errors.ErrCodeInternal:
		h.logger.Error("Request failed", zap.String("method", method), zap.Error(err))
	case errors.ErrCodeLockTimeout, errors.ErrCodeQuorumUnavailable, errors.ErrCodePeerUnavailable:
		h.logger.Warn("Request failed", zap.String("method", method), zap.Error(err))
	default:
		h.logger.Debug("Request rejected", zap.String("method", method), zap.Error(err))
	}
	return re.ToGRPCStatus().Err()
}
