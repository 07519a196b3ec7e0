package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/pesio-ai/be-docflow/internal/clock"
	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
)

// fallbackDepartments routes documents whose type has no active workflow.
// It is the only copy of this table; FallbackDepartment and
// UnroutedTypesFor read from it.
var fallbackDepartments = map[repository.DocumentType]repository.Department{
	repository.DocumentTypeAdmission:   repository.DepartmentAdmissions,
	repository.DocumentTypeScholarship: repository.DepartmentScholarship,
	repository.DocumentTypeTransfer:    repository.DepartmentAdmissions,
	repository.DocumentTypeGraduation:  repository.DepartmentRegistrar,
	repository.DocumentTypeOther:       repository.DepartmentAdmin,
}

// staleRoutes lists departments a document type was historically misrouted
// to. The sweep moves such documents back to their fallback department.
var staleRoutes = map[repository.DocumentType][]repository.Department{
	repository.DocumentTypeScholarship: {repository.DepartmentAdmissions, repository.DepartmentAdmin},
}

// FallbackDepartment returns the static department for a document type.
func FallbackDepartment(t repository.DocumentType) (repository.Department, bool) {
	d, ok := fallbackDepartments[t]
	return d, ok
}

// UnroutedTypesFor returns the document types whose fallback is dept, in
// declaration order.
func UnroutedTypesFor(dept repository.Department) []repository.DocumentType {
	var out []repository.DocumentType
	for _, t := range repository.DocumentTypes {
		if fallbackDepartments[t] == dept {
			out = append(out, t)
		}
	}
	return out
}

// Route is the entry position of a new document.
type Route struct {
	Department repository.Department
	Stage      repository.Stage
	WorkflowID *string
	// Correction is set when the stored workflow was repaired during resolution.
	Correction *WorkflowCorrection
}

// WorkflowCorrection describes one self-heal repair of a stored workflow.
type WorkflowCorrection struct {
	WorkflowID string
	Order      int
	From       repository.Department
	To         repository.Department
	// Removed lists the orders of other To stages dropped by the repair.
	Removed []int
	// Persisted is false when the repair could not be written; the document
	// is still routed to To.
	Persisted bool
}

// RoutingResolver decides where new documents enter and repairs misrouted ones.
type RoutingResolver struct {
	workflows repository.WorkflowStore
	documents repository.DocumentStore
	log       *logger.Logger
}

// NewRoutingResolver creates a new RoutingResolver.
func NewRoutingResolver(workflows repository.WorkflowStore, documents repository.DocumentStore, log *logger.Logger) *RoutingResolver {
	return &RoutingResolver{workflows: workflows, documents: documents, log: log}
}

// Resolve returns the entry route for a document type.
func (r *RoutingResolver) Resolve(ctx context.Context, docType repository.DocumentType) (Route, error) {
	if !docType.Valid() {
		return Route{}, errors.InvalidInput("documentType", fmt.Sprintf("invalid document type %q", docType))
	}

	wf, err := r.workflows.GetActiveWorkflow(ctx, docType)
	if err != nil {
		return Route{}, err
	}

	if wf == nil {
		dept := fallbackDepartments[docType]
		return Route{Department: dept, Stage: repository.DepartmentStage(dept)}, nil
	}

	entry, ok := wf.EntryStage()
	if !ok {
		return Route{}, errors.Configuration(
			fmt.Sprintf("workflow %s for %s has no stage with order 1", wf.ID, docType))
	}

	wfID := wf.ID
	route := Route{
		Department: entry.Department,
		Stage:      repository.DepartmentStage(entry.Department),
		WorkflowID: &wfID,
	}

	if docType == repository.DocumentTypeScholarship && entry.Department == repository.DepartmentAdmissions {
		route.Department = repository.DepartmentScholarship
		route.Stage = repository.DepartmentStage(repository.DepartmentScholarship)
		route.Correction = r.correctEntryStage(ctx, wf, entry)
	}

	return route, nil
}

// correctEntryStage persists the scholarship entry-stage repair. When the
// workflow already has a scholarship stage, that stage is dropped and the
// remaining orders renumbered so every department still owns one stage. A
// failed write is logged; the caller still routes with the corrected
// department.
func (r *RoutingResolver) correctEntryStage(ctx context.Context, wf *repository.WorkflowDefinition, entry repository.WorkflowStage) *WorkflowCorrection {
	c := &WorkflowCorrection{
		WorkflowID: wf.ID,
		Order:      entry.Order,
		From:       entry.Department,
		To:         repository.DepartmentScholarship,
	}

	var err error
	if wf.StageIndex(c.To) < 0 {
		err = r.workflows.PatchStageDepartment(ctx, wf.ID, entry.Order, c.To)
	} else {
		repaired := wf.Clone()
		repaired.Stages = repaired.Stages[:0]
		for _, st := range wf.Stages {
			switch {
			case st.Order == entry.Order:
				st.Department = c.To
			case st.Department == c.To:
				c.Removed = append(c.Removed, st.Order)
				continue
			}
			st.Order = len(repaired.Stages) + 1
			repaired.Stages = append(repaired.Stages, st)
		}
		err = r.workflows.Save(ctx, repaired)
	}
	if err != nil {
		r.log.Warn().Err(err).
			Str("workflow_id", wf.ID).
			Int("order", entry.Order).
			Msg("workflow_corrected: failed to persist stage repair")
		return c
	}
	c.Persisted = true

	r.log.Warn().
		Str("event", "workflow_corrected").
		Str("workflow_id", wf.ID).
		Str("document_type", string(wf.DocumentType)).
		Int("order", entry.Order).
		Str("from_department", string(c.From)).
		Str("to_department", string(c.To)).
		Ints("removed_orders", c.Removed).
		Msg("Workflow entry stage corrected")
	return c
}

// ── Reconciliation sweep ──────────────────────────────────────────────────────

// FixMisrouted moves non-terminal documents that belong to dept by the
// fallback table but are unrouted or sit in a known stale department. It
// returns the number of documents changed; a second run changes nothing.
func (r *RoutingResolver) FixMisrouted(ctx context.Context, dept repository.Department) (int, error) {
	types := UnroutedTypesFor(dept)
	if len(types) == 0 {
		return 0, nil
	}

	candidates, err := r.documents.Find(ctx, repository.DocumentFilter{
		Statuses:      []repository.Status{repository.StatusPending, repository.StatusInReview},
		DocumentTypes: types,
	})
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, doc := range candidates {
		if !misrouted(doc, dept) {
			continue
		}

		version := doc.Version
		target := dept
		stage := repository.DepartmentStage(dept)
		patch := repository.DocumentPatch{
			CurrentStage:      &stage,
			CurrentDepartment: &target,
			LastUpdated:       clock.Now(),
		}
		// An assignee from the stale department cannot act in dept.
		if doc.AssignedTo != nil {
			pending := repository.StatusPending
			patch.ClearAssignee = true
			patch.Status = &pending
		}
		_, err := r.documents.ConditionalUpdate(ctx, doc.ID, repository.Condition{Version: &version}, patch)
		if err != nil {
			// A concurrent write wins; the next sweep re-evaluates the document.
			r.log.Warn().Err(err).
				Str("document_id", doc.ID).
				Str("department", string(dept)).
				Msg("sweep: failed to re-route document")
			continue
		}
		fixed++
	}

	if fixed > 0 {
		r.log.Info().
			Str("department", string(dept)).
			Int("fixed", fixed).
			Msg("Re-routed misrouted documents")
	}
	return fixed, nil
}

// misrouted reports whether doc should sit in dept. A document that has been
// acted on was placed by a transition and is never a stale route.
func misrouted(doc *repository.Document, dept repository.Department) bool {
	if doc.CurrentDepartment == nil || *doc.CurrentDepartment == "" {
		return true
	}
	if *doc.CurrentDepartment == dept || !slices.Contains(staleRoutes[doc.DocumentType], *doc.CurrentDepartment) {
		return false
	}
	for _, h := range doc.History {
		if h.Action != repository.HistorySubmitted && h.Action != repository.HistoryAssigned {
			return false
		}
	}
	return true
}
