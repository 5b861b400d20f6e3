// ABOUTME: Typed client for VersioningService over any grpc.ClientConnInterface
// ABOUTME: Status codes are mapped back onto the engine's error sentinels

package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/schedver/pkg/document"
	"github.com/nainya/schedver/pkg/engine"
	"github.com/nainya/schedver/pkg/version"
)

// Client calls VersioningService
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return fromStatus(err)
	}
	return fromStruct(out, resp)
}

// fromStatus wraps a status error with the matching engine sentinel so
// callers can use errors.Is on either side of the wire. status.Code still
// sees the original status.
func fromStatus(err error) error {
	var sentinel error
	switch status.Code(err) {
	case codes.InvalidArgument:
		sentinel = engine.ErrValidation
	case codes.NotFound:
		sentinel = engine.ErrNotFound
	case codes.AlreadyExists:
		sentinel = engine.ErrAlreadyExists
	case codes.FailedPrecondition:
		sentinel = engine.ErrLockConflict
	case codes.Aborted:
		sentinel = engine.ErrVersionConflict
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func (c *Client) CreateDocument(ctx context.Context, documentID, actor string) (*document.Head, error) {
	var head document.Head
	if err := c.call(ctx, "CreateDocument", &DocumentRequest{DocumentID: documentID, Actor: actor}, &head); err != nil {
		return nil, err
	}
	return &head, nil
}

func (c *Client) GetHead(ctx context.Context, documentID string) (*document.Head, error) {
	var head document.Head
	if err := c.call(ctx, "GetHead", &DocumentRequest{DocumentID: documentID}, &head); err != nil {
		return nil, err
	}
	return &head, nil
}

func (c *Client) CreateVersion(ctx context.Context, documentID string, changes []version.ChangeRecord, actor string, meta *version.Metadata) (*version.Node, error) {
	req := &CreateVersionRequest{
		DocumentID: documentID,
		Changes:    changes,
		Actor:      actor,
		Metadata:   meta,
	}
	var node version.Node
	if err := c.call(ctx, "CreateVersion", req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *Client) GetVersion(ctx context.Context, id uuid.UUID) (*version.Node, error) {
	var node version.Node
	if err := c.call(ctx, "GetVersion", &VersionRequest{VersionID: id}, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *Client) GetVersionHistory(ctx context.Context, documentID string, limit int) ([]*version.Node, error) {
	var resp HistoryResponse
	if err := c.call(ctx, "GetVersionHistory", &HistoryRequest{DocumentID: documentID, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

func (c *Client) RollbackToVersion(ctx context.Context, documentID string, targetID uuid.UUID, actor string) (*version.Node, error) {
	req := &RollbackRequest{DocumentID: documentID, TargetVersionID: targetID, Actor: actor}
	var node version.Node
	if err := c.call(ctx, "RollbackToVersion", req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *Client) CompareVersions(ctx context.Context, id1, id2 uuid.UUID) (*engine.Comparison, error) {
	var cmp engine.Comparison
	if err := c.call(ctx, "CompareVersions", &CompareRequest{Version1ID: id1, Version2ID: id2}, &cmp); err != nil {
		return nil, err
	}
	return &cmp, nil
}

// Reconstruct returns the state of a document as of versionNumber, or the
// current state when versionNumber is 0
func (c *Client) Reconstruct(ctx context.Context, documentID string, versionNumber int) (*ReconstructResponse, error) {
	var resp ReconstructResponse
	if err := c.call(ctx, "Reconstruct", &ReconstructRequest{DocumentID: documentID, Version: versionNumber}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReconstructVersion returns the state as of the given version node
func (c *Client) ReconstructVersion(ctx context.Context, id uuid.UUID) (*ReconstructResponse, error) {
	var resp ReconstructResponse
	if err := c.call(ctx, "Reconstruct", &ReconstructRequest{VersionID: &id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) LockSchedule(ctx context.Context, documentID, actor string) (bool, error) {
	var resp LockResponse
	if err := c.call(ctx, "LockSchedule", &DocumentRequest{DocumentID: documentID, Actor: actor}, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (c *Client) UnlockSchedule(ctx context.Context, documentID, actor string) (bool, error) {
	var resp LockResponse
	if err := c.call(ctx, "UnlockSchedule", &DocumentRequest{DocumentID: documentID, Actor: actor}, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (c *Client) VerifyChain(ctx context.Context, documentID string) (*engine.ChainReport, error) {
	var report engine.ChainReport
	if err := c.call(ctx, "VerifyChain", &DocumentRequest{DocumentID: documentID}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) Reconcile(ctx context.Context, documentID string) (*engine.ReconcileReport, error) {
	var report engine.ReconcileReport
	if err := c.call(ctx, "Reconcile", &DocumentRequest{DocumentID: documentID}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
