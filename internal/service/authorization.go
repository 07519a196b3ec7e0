package service

import (
	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/repository"
)

// Capabilities is the gate's verdict for one actor on one document.
type Capabilities struct {
	CanView   bool `json:"canView"`
	CanAssign bool `json:"canAssign"`
	CanAct    bool `json:"canAct"`
}

// Evaluate returns every predicate for actor on doc.
func Evaluate(actor Actor, doc *repository.Document) Capabilities {
	return Capabilities{
		CanView:   CanView(actor, doc),
		CanAssign: CanAssign(actor, doc),
		CanAct:    CanAct(actor, doc),
	}
}

// CanView: admins and approvers see everything; students see their own.
func CanView(actor Actor, doc *repository.Document) bool {
	switch actor.Role {
	case repository.RoleAdmin, repository.RoleApprover:
		return true
	case repository.RoleStudent:
		return doc.StudentID == actor.ID
	}
	return false
}

// CanAssign: an approver of the owning department on an unassigned pending document.
func CanAssign(actor Actor, doc *repository.Document) bool {
	return actor.Role == repository.RoleApprover &&
		doc.InDepartment(actor.Department) &&
		doc.Status == repository.StatusPending &&
		doc.AssignedTo == nil
}

// CanAct: admins on any open document; approvers of the owning department
// when the document is unassigned or assigned to them.
func CanAct(actor Actor, doc *repository.Document) bool {
	if doc.Status == repository.StatusApproved || doc.Status == repository.StatusRejected {
		return false
	}
	switch actor.Role {
	case repository.RoleAdmin:
		return true
	case repository.RoleApprover:
		return doc.InDepartment(actor.Department) &&
			(doc.AssignedTo == nil || *doc.AssignedTo == actor.ID)
	}
	return false
}

// authorizeAction is the department check applied by act. Admins bypass it.
func authorizeAction(actor Actor, doc *repository.Document) error {
	if actor.Role == repository.RoleStudent {
		return errors.Forbidden("students cannot act on documents")
	}
	if actor.IsAdmin() {
		return nil
	}
	if !doc.InDepartment(actor.Department) {
		return errors.Forbidden("not authorized for this department")
	}
	return nil
}

// authorizeAssign is the department check applied by assign. Admins are not exempt.
func authorizeAssign(actor Actor, doc *repository.Document) error {
	if actor.Role == repository.RoleStudent {
		return errors.Forbidden("students cannot be assigned documents")
	}
	if !doc.InDepartment(actor.Department) {
		return errors.Forbidden("not authorized for this department")
	}
	return nil
}
