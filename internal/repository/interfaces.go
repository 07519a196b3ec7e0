package repository

import (
	"context"

	"github.com/pesio-ai/be-docflow/internal/errors"
)

// ErrConditionNotMet is returned by ConditionalUpdate when the document exists
// but the condition does not hold.
var ErrConditionNotMet = errors.Conflict("document changed concurrently")

// DocumentStore persists documents and their append-only history.
type DocumentStore interface {
	// Get returns the document or a NOT_FOUND error.
	Get(ctx context.Context, id string) (*Document, error)
	// Find returns every document matching filter, history included.
	Find(ctx context.Context, filter DocumentFilter) ([]*Document, error)
	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter DocumentFilter) (int64, error)
	// Create inserts a new document, assigning its ID when empty.
	Create(ctx context.Context, doc *Document) error
	// ConditionalUpdate atomically applies patch when cond holds and returns
	// the updated document. A missing document yields NOT_FOUND; a failed
	// condition yields ErrConditionNotMet.
	ConditionalUpdate(ctx context.Context, id string, cond Condition, patch DocumentPatch) (*Document, error)
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	// GetActiveWorkflow returns the active definition for a type, or nil.
	GetActiveWorkflow(ctx context.Context, documentType DocumentType) (*WorkflowDefinition, error)
	// GetByID returns a definition or a NOT_FOUND error.
	GetByID(ctx context.Context, id string) (*WorkflowDefinition, error)
	// List returns all definitions ordered by name.
	List(ctx context.Context) ([]*WorkflowDefinition, error)
	// Save normalizes and upserts a definition.
	Save(ctx context.Context, def *WorkflowDefinition) error
	// PatchStageDepartment rewrites the department of the stage with the given order.
	PatchStageDepartment(ctx context.Context, workflowID string, order int, dept Department) error
}

// User is a directory entry.
type User struct {
	ID         string      `json:"id"`
	Username   string      `json:"username"`
	Email      string      `json:"email"`
	Role       Role        `json:"role"`
	Department *Department `json:"department,omitempty"`
	IsActive   bool        `json:"isActive"`
}

// Approver is the directory projection used for notification fan-out.
type Approver struct {
	ID       string
	Email    string
	IsActive bool
}
