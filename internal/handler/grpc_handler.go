package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-docflow/internal/auth"
	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
	"github.com/pesio-ai/be-docflow/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "docflow.v1.DocumentWorkflow"

// DocumentWorkflowServer is the gRPC surface. Messages are google.protobuf.Struct
// values whose fields mirror the REST JSON bodies.
type DocumentWorkflowServer interface {
	SubmitDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssignToSelf(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListForApprover(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(DocumentWorkflowServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc registers DocumentWorkflowServer on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentWorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitDocument", Handler: unary("SubmitDocument", DocumentWorkflowServer.SubmitDocument)},
		{MethodName: "AssignToSelf", Handler: unary("AssignToSelf", DocumentWorkflowServer.AssignToSelf)},
		{MethodName: "ApplyAction", Handler: unary("ApplyAction", DocumentWorkflowServer.ApplyAction)},
		{MethodName: "ListForApprover", Handler: unary("ListForApprover", DocumentWorkflowServer.ListForApprover)},
		{MethodName: "GetStats", Handler: unary("GetStats", DocumentWorkflowServer.GetStats)},
		{MethodName: "GetDocument", Handler: unary("GetDocument", DocumentWorkflowServer.GetDocument)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docflow/v1/document_workflow.proto",
}

func unary(method string, call unaryCall) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DocumentWorkflowServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DocumentWorkflowServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements DocumentWorkflowServer.
type GRPCHandler struct {
	documents *service.DocumentService
	log       *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(documents *service.DocumentService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{documents: documents, log: log.Component("grpc")}
}

// Register attaches the handler to srv.
func (h *GRPCHandler) Register(srv *grpc.Server) {
	srv.RegisterService(&ServiceDesc, h)
}

// SubmitDocument submits a document for the calling student.
func (h *GRPCHandler) SubmitDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor := grpcActor(ctx)
	h.log.Debug().Str("actor_id", actor.ID).Msg("gRPC SubmitDocument called")

	if actor.Role != repository.RoleStudent {
		return nil, mapErrorToGRPC(errors.Forbidden("only students can submit documents"))
	}

	doc, err := h.documents.SubmitDocument(ctx, service.Submission{
		StudentID:    actor.ID,
		Title:        str(req, "title"),
		Description:  str(req, "description"),
		DocumentType: repository.DocumentType(str(req, "documentType")),
		FileMeta: repository.FileMeta{
			FileRef:  str(req, "fileRef"),
			FileName: str(req, "fileName"),
			FileType: str(req, "fileType"),
			FileSize: int64(req.GetFields()["fileSize"].GetNumberValue()),
		},
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(doc)
}

// AssignToSelf claims a document for the calling approver.
func (h *GRPCHandler) AssignToSelf(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := str(req, "documentId")
	h.log.Debug().Str("document_id", id).Msg("gRPC AssignToSelf called")

	doc, err := h.documents.AssignToSelf(ctx, id, grpcActor(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(doc)
}

// ApplyAction approves, rejects, returns or forwards a document.
func (h *GRPCHandler) ApplyAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := str(req, "documentId")
	action := str(req, "action")
	h.log.Debug().Str("document_id", id).Str("action", action).Msg("gRPC ApplyAction called")

	result, err := h.documents.ApplyAction(ctx, id, grpcActor(ctx), service.Action(action), str(req, "comment"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{
		"document":          result.Document,
		"departmentChanged": result.DepartmentChanged,
	})
}

// ListForApprover returns the caller's open queue.
func (h *GRPCHandler) ListForApprover(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	docs, err := h.documents.ListForApprover(ctx, grpcActor(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	if docs == nil {
		docs = []*repository.Document{}
	}
	return toStruct(map[string]any{"documents": docs, "count": len(docs)})
}

// GetStats returns the caller's status breakdown.
func (h *GRPCHandler) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := h.documents.GetStats(ctx, service.ScopeFor(grpcActor(ctx)))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(stats)
}

// GetDocument returns one document the caller may view.
func (h *GRPCHandler) GetDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	doc, err := h.documents.GetDocument(ctx, str(req, "documentId"), grpcActor(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(doc)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func grpcActor(ctx context.Context) service.Actor {
	u, _ := auth.FromContext(ctx)
	return u.Actor()
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// toStruct converts a JSON-serialisable value into a Struct using its JSON
// field names.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeAuthorization:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeConfiguration:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
