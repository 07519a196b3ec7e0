package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-docflow/internal/errors"
)

func validWorkflow() *WorkflowDefinition {
	return &WorkflowDefinition{
		Name:         "Admission Workflow",
		DocumentType: DocumentTypeAdmission,
		IsActive:     true,
		Stages: []WorkflowStage{
			{Department: DepartmentAdmin, Order: 3, ApprovalRequired: true, TimeLimitHours: 24},
			{Department: DepartmentAdmissions, Order: 1, ApprovalRequired: true},
			{Department: DepartmentFinance, Order: 2, ApprovalRequired: true, TimeLimitHours: 72},
		},
	}
}

func TestNormalizeSortsAndDefaults(t *testing.T) {
	wf := validWorkflow()
	wf.Name = "  Admission Workflow "
	require.NoError(t, wf.Normalize())

	assert.Equal(t, "Admission Workflow", wf.Name)
	require.Len(t, wf.Stages, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{wf.Stages[0].Order, wf.Stages[1].Order, wf.Stages[2].Order})
	assert.Equal(t, DepartmentAdmissions, wf.Stages[0].Department)
	assert.Equal(t, 48, wf.Stages[0].TimeLimitHours)
	assert.Equal(t, 72, wf.Stages[1].TimeLimitHours)
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkflowDefinition)
		field  string
	}{
		{"empty name", func(w *WorkflowDefinition) { w.Name = " " }, "name"},
		{"bad type", func(w *WorkflowDefinition) { w.DocumentType = "thesis" }, "documentType"},
		{"no stages", func(w *WorkflowDefinition) { w.Stages = nil }, "stages"},
		{"bad department", func(w *WorkflowDefinition) { w.Stages[0].Department = "library" }, "stages.department"},
		{"zero order", func(w *WorkflowDefinition) { w.Stages[0].Order = 0 }, "stages.order"},
		{"duplicate order", func(w *WorkflowDefinition) { w.Stages[0].Order = 2 }, "stages.order"},
		{"duplicate department", func(w *WorkflowDefinition) { w.Stages[0].Department = DepartmentFinance }, "stages.department"},
		{"negative limit", func(w *WorkflowDefinition) { w.Stages[1].TimeLimitHours = -1 }, "stages.timeLimitHours"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wf := validWorkflow()
			tc.mutate(wf)

			err := wf.Normalize()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeValidation))

			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.field, appErr.Field)
		})
	}
}

func TestEntryStageAndIndex(t *testing.T) {
	wf := validWorkflow()
	require.NoError(t, wf.Normalize())

	entry, ok := wf.EntryStage()
	require.True(t, ok)
	assert.Equal(t, DepartmentAdmissions, entry.Department)

	assert.Equal(t, 1, wf.StageIndex(DepartmentFinance))
	assert.Equal(t, -1, wf.StageIndex(DepartmentRegistrar))

	wf.Stages = wf.Stages[1:]
	_, ok = wf.EntryStage()
	assert.False(t, ok)
}

func TestWorkflowClone(t *testing.T) {
	wf := validWorkflow()
	c := wf.Clone()
	c.Stages[0].Department = DepartmentRegistrar
	assert.Equal(t, DepartmentAdmin, wf.Stages[0].Department)
}

func TestWorkflowStageApprovalRequiredDefault(t *testing.T) {
	var wf WorkflowDefinition
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Transfer",
		"documentType": "transfer",
		"stages": [
			{"department": "admissions", "order": 1},
			{"department": "registrar", "order": 2, "approvalRequired": false, "timeLimitHours": 12}
		]
	}`), &wf))

	require.Len(t, wf.Stages, 2)
	assert.True(t, wf.Stages[0].ApprovalRequired)
	assert.False(t, wf.Stages[1].ApprovalRequired)
	assert.Equal(t, DepartmentRegistrar, wf.Stages[1].Department)
	assert.Equal(t, 12, wf.Stages[1].TimeLimitHours)
}
