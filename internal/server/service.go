// ABOUTME: VersioningService descriptor and message shapes
// ABOUTME: Declared in Go over google.protobuf.Struct, no generated stubs required

package server

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/schedver/pkg/version"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "schedver.v1.VersioningService"

// DocumentRequest addresses a document, optionally on behalf of an actor
type DocumentRequest struct {
	DocumentID string `json:"documentId"`
	Actor      string `json:"actor,omitempty"`
}

// CreateVersionRequest carries a new change set
type CreateVersionRequest struct {
	DocumentID string                 `json:"documentId"`
	Changes    []version.ChangeRecord `json:"changes"`
	Actor      string                 `json:"actor"`
	Metadata   *version.Metadata      `json:"metadata,omitempty"`
}

// VersionRequest addresses a single version node
type VersionRequest struct {
	VersionID uuid.UUID `json:"versionId"`
}

// HistoryRequest asks for the most recent versions of a document
type HistoryRequest struct {
	DocumentID string `json:"documentId"`
	Limit      int    `json:"limit,omitempty"` // 0 uses the server default
}

// HistoryResponse lists versions newest first
type HistoryResponse struct {
	Versions []*version.Node `json:"versions"`
}

// RollbackRequest restores a document to an earlier version
type RollbackRequest struct {
	DocumentID      string    `json:"documentId"`
	TargetVersionID uuid.UUID `json:"targetVersionId"`
	Actor           string    `json:"actor"`
}

// CompareRequest names the two versions to diff
type CompareRequest struct {
	Version1ID uuid.UUID `json:"version1Id"`
	Version2ID uuid.UUID `json:"version2Id"`
}

// ReconstructRequest selects a state either by version id or by document and
// number. A zero number reconstructs the current version.
type ReconstructRequest struct {
	DocumentID string     `json:"documentId,omitempty"`
	Version    int        `json:"version,omitempty"`
	VersionID  *uuid.UUID `json:"versionId,omitempty"`
}

// ReconstructResponse is a document state as of one version
type ReconstructResponse struct {
	DocumentID string                   `json:"documentId"`
	Version    int                      `json:"version"`
	State      map[string]version.Value `json:"state"`
}

// LockResponse reports whether a lock or unlock took effect
type LockResponse struct {
	OK bool `json:"ok"`
}

// VersioningServiceServer is implemented by Server
type VersioningServiceServer interface {
	CreateDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVersionHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RollbackToVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompareVersions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconstruct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LockSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnlockSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyChain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconcile(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(VersioningServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unaryHandler adapts a method to grpc.MethodHandler, running interceptors
// the same way generated code does
func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VersioningServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(name),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(VersioningServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes VersioningService for grpc.ServiceRegistrar
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VersioningServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateDocument", Handler: unaryHandler("CreateDocument", VersioningServiceServer.CreateDocument)},
		{MethodName: "GetHead", Handler: unaryHandler("GetHead", VersioningServiceServer.GetHead)},
		{MethodName: "CreateVersion", Handler: unaryHandler("CreateVersion", VersioningServiceServer.CreateVersion)},
		{MethodName: "GetVersion", Handler: unaryHandler("GetVersion", VersioningServiceServer.GetVersion)},
		{MethodName: "GetVersionHistory", Handler: unaryHandler("GetVersionHistory", VersioningServiceServer.GetVersionHistory)},
		{MethodName: "RollbackToVersion", Handler: unaryHandler("RollbackToVersion", VersioningServiceServer.RollbackToVersion)},
		{MethodName: "CompareVersions", Handler: unaryHandler("CompareVersions", VersioningServiceServer.CompareVersions)},
		{MethodName: "Reconstruct", Handler: unaryHandler("Reconstruct", VersioningServiceServer.Reconstruct)},
		{MethodName: "LockSchedule", Handler: unaryHandler("LockSchedule", VersioningServiceServer.LockSchedule)},
		{MethodName: "UnlockSchedule", Handler: unaryHandler("UnlockSchedule", VersioningServiceServer.UnlockSchedule)},
		{MethodName: "VerifyChain", Handler: unaryHandler("VerifyChain", VersioningServiceServer.VerifyChain)},
		{MethodName: "Reconcile", Handler: unaryHandler("Reconcile", VersioningServiceServer.Reconcile)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "schedver/v1/versioning.proto",
}

// RegisterVersioningServiceServer registers srv with s
func RegisterVersioningServiceServer(s grpc.ServiceRegistrar, srv VersioningServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
