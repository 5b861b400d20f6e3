// Package server implements the gRPC VersioningService
package server

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/schedver/internal/logger"
	"github.com/nainya/schedver/internal/metrics"
	"github.com/nainya/schedver/pkg/engine"
)

// MaxMessageSize bounds request and response messages
const MaxMessageSize = 16 * 1024 * 1024

// Server implements VersioningServiceServer on top of the engine
type Server struct {
	engine *engine.Engine
}

// NewServer creates a new gRPC service instance
func NewServer(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// NewGRPCServer builds a grpc.Server with the observability interceptor,
// the versioning service and the standard health service registered
func NewGRPCServer(srv *Server, m *metrics.Metrics, log *logger.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(GrpcMetricsInterceptor(m, log)),
	}, opts...)

	gs := grpc.NewServer(opts...)
	RegisterVersioningServiceServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return gs
}

// statusError maps the engine's error taxonomy onto gRPC codes
func statusError(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, engine.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, engine.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, engine.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, engine.ErrLockConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, engine.ErrVersionConflict):
		code = codes.Aborted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

func decode(in *structpb.Struct, v any) error {
	if err := fromStruct(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, statusError(err)
	}
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func requireDocument(id string) error {
	if id == "" {
		return status.Error(codes.InvalidArgument, "documentId is required")
	}
	return nil
}

func requireVersion(name string, id uuid.UUID) error {
	if id == uuid.Nil {
		return status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return nil
}

// ========== Document Operations ==========

func (s *Server) CreateDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DocumentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	return reply(s.engine.CreateDocument(ctx, req.DocumentID, req.Actor))
}

func (s *Server) GetHead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DocumentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	return reply(s.engine.GetHead(ctx, req.DocumentID))
}

// ========== Version Operations ==========

func (s *Server) CreateVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CreateVersionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	return reply(s.engine.CreateVersion(ctx, req.DocumentID, req.Changes, req.Actor, req.Metadata))
}

func (s *Server) GetVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req VersionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireVersion("versionId", req.VersionID); err != nil {
		return nil, err
	}
	return reply(s.engine.GetVersion(ctx, req.VersionID))
}

func (s *Server) GetVersionHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req HistoryRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	nodes, err := s.engine.GetVersionHistory(ctx, req.DocumentID, req.Limit)
	return reply(&HistoryResponse{Versions: nodes}, err)
}

func (s *Server) RollbackToVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RollbackRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	if err := requireVersion("targetVersionId", req.TargetVersionID); err != nil {
		return nil, err
	}
	return reply(s.engine.RollbackToVersion(ctx, req.DocumentID, req.TargetVersionID, req.Actor))
}

func (s *Server) CompareVersions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CompareRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireVersion("version1Id", req.Version1ID); err != nil {
		return nil, err
	}
	if err := requireVersion("version2Id", req.Version2ID); err != nil {
		return nil, err
	}
	return reply(s.engine.CompareVersions(ctx, req.Version1ID, req.Version2ID))
}

func (s *Server) Reconstruct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ReconstructRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	if req.VersionID != nil {
		node, err := s.engine.GetVersion(ctx, *req.VersionID)
		if err != nil {
			return nil, statusError(err)
		}
		state, err := s.engine.ReconstructVersion(ctx, *req.VersionID)
		return reply(&ReconstructResponse{
			DocumentID: node.DocumentID,
			Version:    node.VersionNumber,
			State:      state,
		}, err)
	}

	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	target := req.Version
	if target == 0 {
		head, err := s.engine.GetHead(ctx, req.DocumentID)
		if err != nil {
			return nil, statusError(err)
		}
		if head.CurrentVersion == 0 {
			return reply(&ReconstructResponse{DocumentID: req.DocumentID, State: head.Data}, nil)
		}
		target = head.CurrentVersion
	}
	state, err := s.engine.Reconstruct(ctx, req.DocumentID, target)
	return reply(&ReconstructResponse{
		DocumentID: req.DocumentID,
		Version:    target,
		State:      state,
	}, err)
}

// ========== Lock Operations ==========

func (s *Server) LockSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DocumentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	ok, err := s.engine.LockSchedule(ctx, req.DocumentID, req.Actor)
	return reply(&LockResponse{OK: ok}, err)
}

func (s *Server) UnlockSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DocumentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	ok, err := s.engine.UnlockSchedule(ctx, req.DocumentID, req.Actor)
	return reply(&LockResponse{OK: ok}, err)
}

// ========== Maintenance ==========

func (s *Server) VerifyChain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DocumentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	return reply(s.engine.VerifyChain(ctx, req.DocumentID))
}

func (s *Server) Reconcile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DocumentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireDocument(req.DocumentID); err != nil {
		return nil, err
	}
	return reply(s.engine.Reconcile(ctx, req.DocumentID))
}
