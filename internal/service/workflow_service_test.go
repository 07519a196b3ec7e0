package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
)

func TestWorkflowService(t *testing.T) {
	ctx := context.Background()
	svc := NewWorkflowService(repository.NewMemoryWorkflowStore(), logger.Nop())

	def := threeStageWorkflow()
	def.ID = ""

	t.Run("admin only", func(t *testing.T) {
		err := svc.SaveWorkflow(ctx, admissionsApp, def)
		assert.True(t, errors.Is(err, errors.ErrCodeAuthorization))
	})

	t.Run("save and read", func(t *testing.T) {
		require.NoError(t, svc.SaveWorkflow(ctx, admin, def))
		require.NotEmpty(t, def.ID)

		got, err := svc.GetWorkflow(ctx, admissionsApp, def.ID)
		require.NoError(t, err)
		assert.Len(t, got.Stages, 3)

		list, err := svc.ListWorkflows(ctx, admin)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("students cannot read", func(t *testing.T) {
		_, err := svc.ListWorkflows(ctx, student)
		assert.True(t, errors.Is(err, errors.ErrCodeAuthorization))
		_, err = svc.GetWorkflow(ctx, student, def.ID)
		assert.True(t, errors.Is(err, errors.ErrCodeAuthorization))
	})

	t.Run("scholarship may not enter at admissions", func(t *testing.T) {
		bad := &repository.WorkflowDefinition{
			Name:         "Scholarship Workflow",
			DocumentType: repository.DocumentTypeScholarship,
			IsActive:     true,
			Stages: []repository.WorkflowStage{
				{Department: repository.DepartmentFinance, Order: 2},
				{Department: repository.DepartmentAdmissions, Order: 1},
			},
		}
		err := svc.SaveWorkflow(ctx, admin, bad)
		assert.True(t, errors.Is(err, errors.ErrCodeValidation))

		bad.Stages[1].Department = repository.DepartmentScholarship
		assert.NoError(t, svc.SaveWorkflow(ctx, admin, bad))
	})

	t.Run("malformed", func(t *testing.T) {
		err := svc.SaveWorkflow(ctx, admin, &repository.WorkflowDefinition{Name: "Empty", DocumentType: repository.DocumentTypeOther})
		assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	})
}
