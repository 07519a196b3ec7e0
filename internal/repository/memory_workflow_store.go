package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-docflow/internal/clock"
	"github.com/pesio-ai/be-docflow/internal/errors"
)

// MemoryWorkflowStore is an in-process WorkflowStore.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*WorkflowDefinition
}

// NewMemoryWorkflowStore creates an empty store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*WorkflowDefinition)}
}

func (s *MemoryWorkflowStore) GetActiveWorkflow(_ context.Context, documentType DocumentType) (*WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, wf := range s.workflows {
		if wf.IsActive && wf.DocumentType == documentType {
			return wf.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryWorkflowStore) GetByID(_ context.Context, id string) (*WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, errors.NotFound("workflow", id)
	}
	return wf.Clone(), nil
}

func (s *MemoryWorkflowStore) List(_ context.Context) ([]*WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*WorkflowDefinition, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryWorkflowStore) Save(_ context.Context, def *WorkflowDefinition) error {
	if err := def.Normalize(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID != "" {
		if _, ok := s.workflows[def.ID]; !ok {
			return errors.NotFound("workflow", def.ID)
		}
	}
	for id, other := range s.workflows {
		if id == def.ID {
			continue
		}
		if other.Name == def.Name {
			return errors.InvalidInput("name", fmt.Sprintf("workflow name %q already in use", def.Name))
		}
		if def.IsActive && other.IsActive && other.DocumentType == def.DocumentType {
			return errors.InvalidInput("documentType",
				fmt.Sprintf("an active workflow for %q already exists", def.DocumentType))
		}
	}

	now := clock.Now()
	if def.ID == "" {
		def.ID = uuid.NewString()
		def.CreatedAt = now
	} else {
		def.CreatedAt = s.workflows[def.ID].CreatedAt
	}
	def.UpdatedAt = now
	s.workflows[def.ID] = def.Clone()
	return nil
}

func (s *MemoryWorkflowStore) PatchStageDepartment(_ context.Context, workflowID string, order int, dept Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return errors.NotFound("workflow", workflowID)
	}
	for i := range wf.Stages {
		if wf.Stages[i].Order == order {
			wf.Stages[i].Department = dept
			wf.UpdatedAt = clock.Now()
			return nil
		}
	}
	return errors.NotFound("workflow stage", fmt.Sprintf("%s/%d", workflowID, order))
}
