package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-docflow/internal/clock"
	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
	"github.com/pesio-ai/be-docflow/internal/tracing"
)

// DocumentServiceConfig holds the submit limits and the assignment audit toggle.
type DocumentServiceConfig struct {
	MaxFileSize  int64
	AllowedTypes []string
	// AuditAssignments appends an "assigned" history entry on assign.
	AuditAssignments bool
}

// Submission is the input of SubmitDocument.
type Submission struct {
	StudentID    string
	Title        string
	Description  string
	DocumentType repository.DocumentType
	repository.FileMeta
}

// ActionResult is the outcome of ApplyAction.
type ActionResult struct {
	Document           *repository.Document
	Action             Action
	PreviousStage      repository.Stage
	PreviousDepartment *repository.Department
	// DepartmentChanged is true when the document now sits in a different
	// department than before the action (including leaving all departments).
	DepartmentChanged bool
}

// Stats is the status breakdown of a document scope. Pending includes forwarded.
type Stats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	InReview int64 `json:"inReview"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Returned int64 `json:"returned"`
}

var errAlreadyAssigned = errors.Conflict("document already assigned to another approver")

// DocumentService is the document workflow engine: submission, assignment,
// actions and queue queries.
type DocumentService struct {
	documents  repository.DocumentStore
	workflows  repository.WorkflowStore
	resolver   *RoutingResolver
	directory  Directory
	notifier   Notifier
	realtime   Realtime
	dispatcher *Dispatcher
	cfg        DocumentServiceConfig
	log        *logger.Logger
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(
	documents repository.DocumentStore,
	workflows repository.WorkflowStore,
	resolver *RoutingResolver,
	directory Directory,
	notifier Notifier,
	realtime Realtime,
	dispatcher *Dispatcher,
	cfg DocumentServiceConfig,
	log *logger.Logger,
) *DocumentService {
	return &DocumentService{
		documents:  documents,
		workflows:  workflows,
		resolver:   resolver,
		directory:  directory,
		notifier:   notifier,
		realtime:   realtime,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// SubmitDocument validates the submission, routes it and creates the document
// with a single "submitted" history entry.
func (s *DocumentService) SubmitDocument(ctx context.Context, sub Submission) (doc *repository.Document, err error) {
	ctx, span := tracing.Start(ctx, "docflow.SubmitDocument",
		attribute.String("document.type", string(sub.DocumentType)),
		attribute.String("student.id", sub.StudentID),
	)
	defer func() { tracing.End(span, err) }()

	if err := s.validateSubmission(sub); err != nil {
		return nil, err
	}

	active, err := s.directory.IsActive(ctx, sub.StudentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check student account")
	}
	if !active {
		return nil, errors.Forbidden("student account is not active")
	}

	route, err := s.resolver.Resolve(ctx, sub.DocumentType)
	if err != nil {
		return nil, err
	}
	if route.Correction != nil {
		s.publishCorrection(*route.Correction)
	}

	now := clock.Now()
	dept := route.Department
	doc = &repository.Document{
		Title:             strings.TrimSpace(sub.Title),
		Description:       sub.Description,
		StudentID:         sub.StudentID,
		DocumentType:      sub.DocumentType,
		FileMeta:          sub.FileMeta,
		Status:            repository.StatusPending,
		CurrentStage:      route.Stage,
		CurrentDepartment: &dept,
		WorkflowID:        route.WorkflowID,
		History: []repository.HistoryEntry{{
			Stage:     route.Stage,
			Action:    repository.HistorySubmitted,
			Comment:   "Document submitted",
			Timestamp: now,
		}},
		SubmissionDate: now,
		LastUpdated:    now,
	}

	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("student_id", doc.StudentID).
		Str("document_type", string(doc.DocumentType)).
		Str("department", string(dept)).
		Msg("Document submitted")

	s.notifySubmitted(doc)
	return doc, nil
}

func (s *DocumentService) validateSubmission(sub Submission) error {
	if strings.TrimSpace(sub.StudentID) == "" {
		return errors.InvalidInput("studentId", "student is required")
	}
	if strings.TrimSpace(sub.Title) == "" {
		return errors.InvalidInput("title", "title is required")
	}
	if !sub.DocumentType.Valid() {
		return errors.InvalidInput("documentType", fmt.Sprintf("invalid document type %q", sub.DocumentType))
	}
	if sub.FileRef == "" || sub.FileName == "" {
		return errors.InvalidInput("file", "a file is required")
	}
	if sub.FileSize <= 0 {
		return errors.InvalidInput("fileSize", "file is empty")
	}
	if s.cfg.MaxFileSize > 0 && sub.FileSize > s.cfg.MaxFileSize {
		return errors.InvalidInput("fileSize", fmt.Sprintf("file size exceeds %d bytes", s.cfg.MaxFileSize))
	}
	if len(s.cfg.AllowedTypes) > 0 && !slices.Contains(s.cfg.AllowedTypes, strings.ToLower(sub.FileType)) {
		return errors.InvalidInput("fileType", fmt.Sprintf("file type %q is not allowed", sub.FileType))
	}
	return nil
}

// ── Assign ────────────────────────────────────────────────────────────────────

// AssignToSelf claims a document for the acting approver. The write is a
// single conditional update, so of two concurrent claims exactly one wins.
func (s *DocumentService) AssignToSelf(ctx context.Context, documentID string, actor Actor) (doc *repository.Document, err error) {
	ctx, span := tracing.Start(ctx, "docflow.AssignToSelf",
		attribute.String("document.id", documentID),
		attribute.String("actor.id", actor.ID),
	)
	defer func() { tracing.End(span, err) }()

	current, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := authorizeAssign(actor, current); err != nil {
		return nil, err
	}
	if current.AssignedTo != nil && *current.AssignedTo != actor.ID {
		return nil, errAlreadyAssigned
	}

	now := nextTimestamp(current)
	actorID := actor.ID
	dept := actor.Department
	inReview := repository.StatusInReview
	patch := repository.DocumentPatch{
		Status:      &inReview,
		AssignedTo:  &actorID,
		LastUpdated: now,
	}
	if s.cfg.AuditAssignments {
		patch.AppendHistory = &repository.HistoryEntry{
			Stage:     current.CurrentStage,
			ActorID:   &actorID,
			Action:    repository.HistoryAssigned,
			Timestamp: now,
		}
	}

	doc, err = s.documents.ConditionalUpdate(ctx, documentID,
		repository.Condition{AssignableTo: actor.ID, Department: &dept}, patch)
	if stderrors.Is(err, repository.ErrConditionNotMet) {
		return nil, s.classifyAssignFailure(ctx, documentID, actor)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("assigned_to", actor.ID).
		Msg("Document assigned")

	studentID := doc.StudentID
	payload := map[string]any{
		"documentId": doc.ID,
		"assignedTo": actor.ID,
		"timestamp":  now,
	}
	s.dispatcher.Enqueue("realtime."+EventDocumentAssigned, func(ctx context.Context) error {
		return s.realtime.Publish(ctx, studentID, EventDocumentAssigned, payload)
	})
	return doc, nil
}

// classifyAssignFailure re-reads the document after a lost conditional write.
func (s *DocumentService) classifyAssignFailure(ctx context.Context, documentID string, actor Actor) error {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if err := authorizeAssign(actor, doc); err != nil {
		return err
	}
	return errAlreadyAssigned
}

// ── Act ───────────────────────────────────────────────────────────────────────

// ApplyAction approves, rejects, returns or forwards a document. The history
// entry records the stage the action was taken at.
func (s *DocumentService) ApplyAction(
	ctx context.Context,
	documentID string,
	actor Actor,
	action Action,
	comment string,
) (result *ActionResult, err error) {
	ctx, span := tracing.Start(ctx, "docflow.ApplyAction",
		attribute.String("document.id", documentID),
		attribute.String("actor.id", actor.ID),
		attribute.String("action", string(action)),
	)
	defer func() { tracing.End(span, err) }()

	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}

	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == repository.StatusApproved || doc.Status == repository.StatusRejected {
		return nil, errors.Conflict(fmt.Sprintf("document is already %s", doc.Status))
	}
	if err := authorizeAction(actor, doc); err != nil {
		return nil, err
	}

	var wf *repository.WorkflowDefinition
	if action == ActionApprove {
		if wf, err = s.workflowFor(ctx, doc); err != nil {
			return nil, err
		}
	}

	next, err := NextState(doc, wf, actor.Role, action)
	if err != nil {
		return nil, err
	}

	now := nextTimestamp(doc)
	actorID := actor.ID
	version := doc.Version
	patch := repository.DocumentPatch{
		Status:        &next.Status,
		CurrentStage:  &next.Stage,
		ClearAssignee: true,
		AppendHistory: &repository.HistoryEntry{
			Stage:     doc.CurrentStage,
			ActorID:   &actorID,
			Action:    action.PastTense(),
			Comment:   comment,
			Timestamp: now,
		},
		LastUpdated: now,
	}
	if next.Department == nil {
		patch.ClearDepartment = true
	} else {
		patch.CurrentDepartment = next.Department
	}

	updated, err := s.documents.ConditionalUpdate(ctx, documentID, repository.Condition{Version: &version}, patch)
	if err != nil {
		return nil, err
	}

	result = &ActionResult{
		Document:           updated,
		Action:             action,
		PreviousStage:      doc.CurrentStage,
		PreviousDepartment: doc.CurrentDepartment,
		DepartmentChanged:  !sameDepartment(doc.CurrentDepartment, updated.CurrentDepartment),
	}

	s.log.Info().
		Str("document_id", updated.ID).
		Str("actor_id", actor.ID).
		Str("action", string(action)).
		Str("from_stage", doc.CurrentStage.String()).
		Str("to_stage", updated.CurrentStage.String()).
		Str("status", string(updated.Status)).
		Msg("Document action applied")

	s.notifyActed(result, next, comment)
	return result, nil
}

// workflowFor loads the workflow a document was submitted under. A dangling
// reference is treated as no workflow.
func (s *DocumentService) workflowFor(ctx context.Context, doc *repository.Document) (*repository.WorkflowDefinition, error) {
	if doc.WorkflowID == nil {
		return nil, nil
	}
	wf, err := s.workflows.GetByID(ctx, *doc.WorkflowID)
	if errors.Is(err, errors.ErrCodeNotFound) {
		s.log.Warn().
			Str("document_id", doc.ID).
			Str("workflow_id", *doc.WorkflowID).
			Msg("Document references a missing workflow; approving as final stage")
		return nil, nil
	}
	return wf, err
}

// ── Queries ───────────────────────────────────────────────────────────────────

// ListForApprover returns the open queue visible to the actor, newest change
// first. Departmental callers run the reconciliation sweep first; a sweep
// failure is logged and the listing continues.
func (s *DocumentService) ListForApprover(ctx context.Context, actor Actor) (docs []*repository.Document, err error) {
	ctx, span := tracing.Start(ctx, "docflow.ListForApprover",
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.department", string(actor.Department)),
	)
	defer func() { tracing.End(span, err) }()

	if actor.Role != repository.RoleApprover && !actor.IsAdmin() {
		return nil, errors.Forbidden("only approvers and admins have a queue")
	}

	if actor.Department != "" {
		if _, err := s.resolver.FixMisrouted(ctx, actor.Department); err != nil {
			s.log.Warn().Err(err).Str("department", string(actor.Department)).Msg("sweep failed; listing without repair")
		}
	}

	filter := repository.DocumentFilter{
		Statuses: []repository.Status{repository.StatusPending, repository.StatusInReview, repository.StatusForwarded},
		Order:    repository.OrderLastUpdatedDesc,
	}
	if !actor.IsAdmin() {
		filter.Scope = departmentScope(actor.Department)
	}
	return s.documents.Find(ctx, filter)
}

// ScopeFor returns the stats scope of an actor: students see their own
// documents, approvers their department, admins everything.
func ScopeFor(actor Actor) repository.DocumentFilter {
	switch actor.Role {
	case repository.RoleStudent:
		return repository.DocumentFilter{StudentID: actor.ID}
	case repository.RoleApprover:
		return repository.DocumentFilter{Scope: departmentScope(actor.Department)}
	}
	return repository.DocumentFilter{}
}

// GetStats counts documents in scope by status.
func (s *DocumentService) GetStats(ctx context.Context, scope repository.DocumentFilter) (stats *Stats, err error) {
	ctx, span := tracing.Start(ctx, "docflow.GetStats")
	defer func() { tracing.End(span, err) }()

	count := func(statuses ...repository.Status) (int64, error) {
		f := scope
		f.Statuses = statuses
		return s.documents.Count(ctx, f)
	}

	stats = &Stats{}
	counters := []struct {
		dst      *int64
		statuses []repository.Status
	}{
		{&stats.Total, nil},
		{&stats.Pending, []repository.Status{repository.StatusPending, repository.StatusForwarded}},
		{&stats.InReview, []repository.Status{repository.StatusInReview}},
		{&stats.Approved, []repository.Status{repository.StatusApproved}},
		{&stats.Rejected, []repository.Status{repository.StatusRejected}},
		{&stats.Returned, []repository.Status{repository.StatusReturned}},
	}
	for _, c := range counters {
		n, err := count(c.statuses...)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return stats, nil
}

// GetDocument returns a document the actor may view.
func (s *DocumentService) GetDocument(ctx context.Context, documentID string, actor Actor) (*repository.Document, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, doc) {
		return nil, errors.Forbidden("not authorized to view this document")
	}
	return doc, nil
}

// Capabilities evaluates the gate for actor on a document.
func (s *DocumentService) Capabilities(ctx context.Context, documentID string, actor Actor) (Capabilities, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return Capabilities{}, err
	}
	return Evaluate(actor, doc), nil
}

// ListMyDocuments returns the actor's own submissions, newest first.
func (s *DocumentService) ListMyDocuments(ctx context.Context, actor Actor) ([]*repository.Document, error) {
	return s.documents.Find(ctx, repository.DocumentFilter{
		StudentID: actor.ID,
		Order:     repository.OrderSubmissionDesc,
	})
}

// ListAll returns every document. Admin only.
func (s *DocumentService) ListAll(ctx context.Context, actor Actor) ([]*repository.Document, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only admins can list all documents")
	}
	return s.documents.Find(ctx, repository.DocumentFilter{Order: repository.OrderSubmissionDesc})
}

// ApprovalHistory returns the documents the actor has acted on.
func (s *DocumentService) ApprovalHistory(ctx context.Context, actor Actor) ([]*repository.Document, error) {
	if actor.Role == repository.RoleStudent {
		return nil, errors.Forbidden("students have no approval history")
	}
	return s.documents.Find(ctx, repository.DocumentFilter{
		HistoryActorID: actor.ID,
		Order:          repository.OrderLastUpdatedDesc,
	})
}

// ── Side effects ──────────────────────────────────────────────────────────────
// Everything below runs after commit on the dispatcher. Payloads are built
// before enqueueing so jobs never share the caller's document.

func (s *DocumentService) notifySubmitted(doc *repository.Document) {
	dept := *doc.CurrentDepartment
	payload := map[string]any{
		"documentId":   doc.ID,
		"title":        doc.Title,
		"documentType": string(doc.DocumentType),
		"department":   string(dept),
		"studentId":    doc.StudentID,
	}

	s.dispatcher.Enqueue("notify."+NotifyPendingApproval, func(ctx context.Context) error {
		return s.notifyApprovers(ctx, dept, NotifyPendingApproval, payload)
	})
	s.dispatcher.Enqueue("realtime."+EventNewDocument, func(ctx context.Context) error {
		return s.realtime.Publish(ctx, string(dept), EventNewDocument, payload)
	})
}

func (s *DocumentService) notifyActed(r *ActionResult, next Transition, comment string) {
	doc := r.Document
	studentID := doc.StudentID
	pastTense := string(r.Action.PastTense())

	studentPayload := map[string]any{
		"documentId": doc.ID,
		"title":      doc.Title,
		"status":     string(doc.Status),
		"action":     string(r.Action),
		"comment":    comment,
	}
	s.dispatcher.Enqueue("notify.document_"+pastTense, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, studentID, notifyDocumentPrefix+pastTense, studentPayload)
	})

	updatedPayload := map[string]any{
		"documentId": doc.ID,
		"status":     string(doc.Status),
		"action":     string(r.Action),
		"timestamp":  doc.LastUpdated,
	}
	s.dispatcher.Enqueue("realtime."+EventDocumentUpdated, func(ctx context.Context) error {
		return s.realtime.Publish(ctx, studentID, EventDocumentUpdated, updatedPayload)
	})

	if doc.CurrentDepartment == nil {
		return
	}
	nextDept := *doc.CurrentDepartment
	deptPayload := map[string]any{
		"documentId": doc.ID,
		"title":      doc.Title,
		"department": string(nextDept),
	}
	if r.Action == ActionApprove && next.Advanced() {
		s.dispatcher.Enqueue("notify."+NotifyForwardedForApproval, func(ctx context.Context) error {
			return s.notifyApprovers(ctx, nextDept, NotifyForwardedForApproval, deptPayload)
		})
	}
	s.dispatcher.Enqueue("realtime."+EventNewDocument, func(ctx context.Context) error {
		return s.realtime.Publish(ctx, string(nextDept), EventNewDocument, deptPayload)
	})
}

func (s *DocumentService) publishCorrection(c WorkflowCorrection) {
	payload := map[string]any{
		"workflowId":     c.WorkflowID,
		"order":          c.Order,
		"fromDepartment": string(c.From),
		"toDepartment":   string(c.To),
		"persisted":      c.Persisted,
	}
	if len(c.Removed) > 0 {
		payload["removedOrders"] = c.Removed
	}
	s.dispatcher.Enqueue("realtime."+EventWorkflowCorrected, func(ctx context.Context) error {
		return s.realtime.Publish(ctx, AdminRoom, EventWorkflowCorrected, payload)
	})
}

// notifyApprovers notifies every active approver of dept. Each recipient
// gets its own payload copy carrying its email.
func (s *DocumentService) notifyApprovers(ctx context.Context, dept repository.Department, kind string, payload map[string]any) error {
	approvers, err := s.directory.FindApprovers(ctx, dept)
	if err != nil {
		return fmt.Errorf("find approvers for %s: %w", dept, err)
	}

	var errs []error
	for _, a := range approvers {
		if !a.IsActive {
			continue
		}
		p := maps.Clone(payload)
		p["email"] = a.Email
		if err := s.notifier.Notify(ctx, a.ID, kind, p); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", a.ID, err))
		}
	}
	return stderrors.Join(errs...)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func departmentScope(dept repository.Department) *repository.DepartmentScope {
	return &repository.DepartmentScope{Department: dept, UnroutedTypes: UnroutedTypesFor(dept)}
}

func sameDepartment(a, b *repository.Department) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// nextTimestamp returns now, clamped so history stays ordered by timestamp.
func nextTimestamp(doc *repository.Document) time.Time {
	now := clock.Now()
	if n := len(doc.History); n > 0 && now.Before(doc.History[n-1].Timestamp) {
		return doc.History[n-1].Timestamp
	}
	return now
}
