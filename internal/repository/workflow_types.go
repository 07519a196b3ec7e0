package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pesio-ai/be-docflow/internal/errors"
)

// defaultTimeLimitHours applies when a stage is saved without a time limit.
const defaultTimeLimitHours = 48

// WorkflowStage is one entry in a workflow's stages array.
type WorkflowStage struct {
	Department       Department `json:"department" yaml:"department"`
	Order            int        `json:"order" yaml:"order"`
	ApprovalRequired bool       `json:"approvalRequired" yaml:"approvalRequired"`
	TimeLimitHours   int        `json:"timeLimitHours" yaml:"timeLimitHours"`
}

// UnmarshalJSON defaults approvalRequired to true when the field is absent.
func (s *WorkflowStage) UnmarshalJSON(b []byte) error {
	type plain WorkflowStage
	raw := struct {
		plain
		ApprovalRequired *bool `json:"approvalRequired"`
	}{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = WorkflowStage(raw.plain)
	s.ApprovalRequired = raw.ApprovalRequired == nil || *raw.ApprovalRequired
	return nil
}

// WorkflowDefinition is the ordered list of stages for one document type.
type WorkflowDefinition struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DocumentType DocumentType    `json:"documentType"`
	Stages       []WorkflowStage `json:"stages"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Normalize validates the definition and sorts its stages by order. It does
// not check cross-definition uniqueness; stores do that on save.
func (w *WorkflowDefinition) Normalize() error {
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		return errors.InvalidInput("name", "workflow name is required")
	}
	if !w.DocumentType.Valid() {
		return errors.InvalidInput("documentType", fmt.Sprintf("invalid document type %q", w.DocumentType))
	}
	if len(w.Stages) == 0 {
		return errors.InvalidInput("stages", "workflow must have at least one stage")
	}

	seen := make(map[Department]bool, len(w.Stages))
	for i := range w.Stages {
		st := &w.Stages[i]
		if !st.Department.Valid() {
			return errors.InvalidInput("stages.department", fmt.Sprintf("invalid department %q", st.Department))
		}
		// Documents locate their stage by department.
		if seen[st.Department] {
			return errors.InvalidInput("stages.department", fmt.Sprintf("department %q appears in more than one stage", st.Department))
		}
		seen[st.Department] = true
		if st.Order <= 0 {
			return errors.InvalidInput("stages.order", "stage order must be a positive integer")
		}
		if st.TimeLimitHours < 0 {
			return errors.InvalidInput("stages.timeLimitHours", "time limit must be a positive number of hours")
		}
		if st.TimeLimitHours == 0 {
			st.TimeLimitHours = defaultTimeLimitHours
		}
	}

	sort.SliceStable(w.Stages, func(i, j int) bool { return w.Stages[i].Order < w.Stages[j].Order })
	for i := 1; i < len(w.Stages); i++ {
		if w.Stages[i].Order == w.Stages[i-1].Order {
			return errors.InvalidInput("stages.order", fmt.Sprintf("duplicate stage order %d", w.Stages[i].Order))
		}
	}
	return nil
}

// EntryStage returns the stage with order 1.
func (w *WorkflowDefinition) EntryStage() (WorkflowStage, bool) {
	for _, st := range w.Stages {
		if st.Order == 1 {
			return st, true
		}
	}
	return WorkflowStage{}, false
}

// StageIndex returns the index of the first stage owned by dept, or -1.
func (w *WorkflowDefinition) StageIndex(dept Department) int {
	for i, st := range w.Stages {
		if st.Department == dept {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	c := *w
	c.Stages = append([]WorkflowStage(nil), w.Stages...)
	return &c
}
