package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
	"github.com/pesio-ai/be-docflow/internal/tracing"
)

// WorkflowService is the administrative surface over workflow definitions.
type WorkflowService struct {
	workflows repository.WorkflowStore
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(workflows repository.WorkflowStore, log *logger.Logger) *WorkflowService {
	return &WorkflowService{workflows: workflows, log: log}
}

// SaveWorkflow creates or replaces a definition. Admin only. A scholarship
// workflow may not enter at admissions; that mapping is repaired on submit
// and must not be reintroduced.
func (s *WorkflowService) SaveWorkflow(ctx context.Context, actor Actor, def *repository.WorkflowDefinition) (err error) {
	ctx, span := tracing.Start(ctx, "docflow.SaveWorkflow",
		attribute.String("workflow.name", def.Name),
		attribute.String("document.type", string(def.DocumentType)),
	)
	defer func() { tracing.End(span, err) }()

	if !actor.IsAdmin() {
		return errors.Forbidden("only admins can manage workflows")
	}
	if err := def.Normalize(); err != nil {
		return err
	}
	if def.DocumentType == repository.DocumentTypeScholarship {
		if entry, _ := def.EntryStage(); entry.Department == repository.DepartmentAdmissions {
			return errors.InvalidInput("stages", "scholarship workflows must not enter at admissions")
		}
	}

	if err := s.workflows.Save(ctx, def); err != nil {
		return err
	}

	s.log.Info().
		Str("workflow_id", def.ID).
		Str("name", def.Name).
		Str("document_type", string(def.DocumentType)).
		Int("stages", len(def.Stages)).
		Bool("active", def.IsActive).
		Msg("Workflow saved")
	return nil
}

// ListWorkflows returns every definition. Students may not list workflows.
func (s *WorkflowService) ListWorkflows(ctx context.Context, actor Actor) ([]*repository.WorkflowDefinition, error) {
	if actor.Role == repository.RoleStudent {
		return nil, errors.Forbidden("students cannot list workflows")
	}
	return s.workflows.List(ctx)
}

// GetWorkflow returns one definition.
func (s *WorkflowService) GetWorkflow(ctx context.Context, actor Actor, id string) (*repository.WorkflowDefinition, error) {
	if actor.Role == repository.RoleStudent {
		return nil, errors.Forbidden("students cannot view workflows")
	}
	return s.workflows.GetByID(ctx, id)
}
