package service

import (
	"context"

	"github.com/pesio-ai/be-docflow/internal/repository"
)

// Actor is the caller of an engine operation. Department is empty for
// students and for admins without a home department.
type Actor struct {
	ID         string
	Role       repository.Role
	Department repository.Department
}

func (a Actor) IsAdmin() bool { return a.Role == repository.RoleAdmin }

// Directory resolves users for notification fan-out and submit checks.
type Directory interface {
	FindApprovers(ctx context.Context, dept repository.Department) ([]repository.Approver, error)
	IsActive(ctx context.Context, userID string) (bool, error)
}

// Notifier delivers a notification to one recipient. Callers never see the
// error; it is logged by the dispatcher.
type Notifier interface {
	Notify(ctx context.Context, recipient, eventKind string, payload map[string]any) error
}

// Realtime pushes an event to a room (a student id or a department code).
type Realtime interface {
	Publish(ctx context.Context, room, eventKind string, payload map[string]any) error
}

// Notification event kinds.
const (
	NotifyPendingApproval      = "document_pending_approval"
	NotifyForwardedForApproval = "document_forwarded_for_approval"
	notifyDocumentPrefix       = "document_"
)

// Realtime event kinds.
const (
	EventNewDocument       = "new-document"
	EventDocumentUpdated   = "document-updated"
	EventDocumentAssigned  = "document-assigned"
	EventWorkflowCorrected = "workflow-corrected"
)

// AdminRoom receives operator-facing system events.
const AdminRoom = string(repository.DepartmentAdmin)
