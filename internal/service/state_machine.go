package service

import (
	"fmt"

	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/repository"
)

// Action is an approver-initiated transition request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionReturn  Action = "return"
	ActionForward Action = "forward"
)

// ParseAction validates a raw action value.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionReject, ActionReturn, ActionForward:
		return a, nil
	}
	return "", errors.InvalidInput("action", fmt.Sprintf("invalid action %q", s))
}

// PastTense returns the history action recorded for a.
func (a Action) PastTense() repository.HistoryAction {
	switch a {
	case ActionApprove:
		return repository.HistoryApproved
	case ActionReject:
		return repository.HistoryRejected
	case ActionReturn:
		return repository.HistoryReturned
	default:
		return repository.HistoryForwarded
	}
}

// Transition is the target state of an action. Department is nil for
// terminal statuses.
type Transition struct {
	Status     repository.Status
	Stage      repository.Stage
	Department *repository.Department
}

// Advanced reports whether the transition moved the document to a following
// workflow stage rather than a terminal or override position.
func (t Transition) Advanced() bool {
	return t.Status == repository.StatusPending
}

// NextState computes the transition for action on doc. wf is the workflow the
// document was submitted under and may be nil.
func NextState(doc *repository.Document, wf *repository.WorkflowDefinition, role repository.Role, action Action) (Transition, error) {
	switch action {
	case ActionReject:
		return terminal(repository.StatusRejected, repository.TerminalRejected), nil
	case ActionReturn:
		return terminal(repository.StatusReturned, repository.TerminalReturned), nil
	case ActionForward:
		admin := repository.DepartmentAdmin
		return Transition{
			Status:     repository.StatusForwarded,
			Stage:      repository.DepartmentStage(admin),
			Department: &admin,
		}, nil
	case ActionApprove:
	default:
		return Transition{}, errors.InvalidInput("action", fmt.Sprintf("invalid action %q", action))
	}

	if role == repository.RoleAdmin || wf == nil || doc.InDepartment(repository.DepartmentAdmin) {
		return terminal(repository.StatusApproved, repository.TerminalCompleted), nil
	}

	current, _ := doc.CurrentStage.Department()
	idx := wf.StageIndex(current)
	if idx < 0 {
		return Transition{}, errors.Configuration(
			fmt.Sprintf("stage %q is not part of workflow %s", doc.CurrentStage, wf.ID))
	}
	// Stored definitions may predate the unique-department rule; a run of
	// stages owned by the same department counts as one.
	n := idx + 1
	for n < len(wf.Stages) && wf.Stages[n].Department == current {
		n++
	}
	if n == len(wf.Stages) {
		return terminal(repository.StatusApproved, repository.TerminalCompleted), nil
	}

	next := wf.Stages[n].Department
	return Transition{
		Status:     repository.StatusPending,
		Stage:      repository.DepartmentStage(next),
		Department: &next,
	}, nil
}

func terminal(status repository.Status, marker repository.Terminal) Transition {
	return Transition{Status: status, Stage: repository.TerminalStage(marker)}
}
