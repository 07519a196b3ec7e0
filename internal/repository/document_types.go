package repository

import (
	"slices"
	"time"
)

// ── Enumerations ─────────────────────────────────────────────────────────────
// The string values are persisted and must not change.

// Department is an organisational unit owning a workflow stage.
type Department string

const (
	DepartmentAdmissions  Department = "admissions"
	DepartmentFinance     Department = "finance"
	DepartmentRegistrar   Department = "registrar"
	DepartmentScholarship Department = "scholarship"
	DepartmentAdmin       Department = "admin"
)

// Departments lists every valid department.
var Departments = []Department{
	DepartmentAdmissions, DepartmentFinance, DepartmentRegistrar, DepartmentScholarship, DepartmentAdmin,
}

func (d Department) Valid() bool { return slices.Contains(Departments, d) }

// DocumentType selects the workflow a document follows.
type DocumentType string

const (
	DocumentTypeAdmission   DocumentType = "admission"
	DocumentTypeScholarship DocumentType = "scholarship"
	DocumentTypeTransfer    DocumentType = "transfer"
	DocumentTypeGraduation  DocumentType = "graduation"
	DocumentTypeOther       DocumentType = "other"
)

// DocumentTypes lists every valid document type.
var DocumentTypes = []DocumentType{
	DocumentTypeAdmission, DocumentTypeScholarship, DocumentTypeTransfer, DocumentTypeGraduation, DocumentTypeOther,
}

func (t DocumentType) Valid() bool { return slices.Contains(DocumentTypes, t) }

// Status is the document workflow status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in-review"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusReturned  Status = "returned"
	StatusForwarded Status = "forwarded"
)

// Terminal reports whether the status ends the workflow instance. Terminal
// documents have no current department.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusReturned
}

// Role of an actor calling the engine.
type Role string

const (
	RoleStudent  Role = "student"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleApprover || r == RoleAdmin
}

// HistoryAction is the recorded (past tense) action of a history entry.
type HistoryAction string

const (
	HistorySubmitted HistoryAction = "submitted"
	HistoryApproved  HistoryAction = "approved"
	HistoryRejected  HistoryAction = "rejected"
	HistoryReturned  HistoryAction = "returned"
	HistoryForwarded HistoryAction = "forwarded"
	// HistoryAssigned is only written when assignment auditing is enabled.
	HistoryAssigned HistoryAction = "assigned"
)

// ── Stage ────────────────────────────────────────────────────────────────────

// Terminal stage markers.
type Terminal string

const (
	TerminalCompleted Terminal = "completed"
	TerminalRejected  Terminal = "rejected"
	TerminalReturned  Terminal = "returned"
)

// Stage is either a department stage or a terminal marker. It serialises to
// the bare department code or marker string.
type Stage struct {
	department Department
	terminal   Terminal
}

// DepartmentStage returns the stage owned by d.
func DepartmentStage(d Department) Stage { return Stage{department: d} }

// TerminalStage returns a terminal marker stage.
func TerminalStage(t Terminal) Stage { return Stage{terminal: t} }

// ParseStage decodes a stored stage string.
func ParseStage(s string) Stage {
	switch Terminal(s) {
	case TerminalCompleted, TerminalRejected, TerminalReturned:
		return Stage{terminal: Terminal(s)}
	}
	return Stage{department: Department(s)}
}

// Department returns the owning department of a non-terminal stage.
func (s Stage) Department() (Department, bool) {
	return s.department, s.terminal == "" && s.department != ""
}

// Terminal returns the marker of a terminal stage.
func (s Stage) Terminal() (Terminal, bool) {
	return s.terminal, s.terminal != ""
}

func (s Stage) IsZero() bool { return s.department == "" && s.terminal == "" }

func (s Stage) String() string {
	if s.terminal != "" {
		return string(s.terminal)
	}
	return string(s.department)
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	*s = ParseStage(string(b))
	return nil
}

// ── Document ─────────────────────────────────────────────────────────────────

// HistoryEntry is one immutable audit record on a document.
type HistoryEntry struct {
	Stage     Stage         `json:"stage"`
	ActorID   *string       `json:"actorId,omitempty"`
	Action    HistoryAction `json:"action"`
	Comment   string        `json:"comment"`
	Timestamp time.Time     `json:"timestamp"`
}

// FileMeta describes the uploaded file. Opaque to the engine.
type FileMeta struct {
	FileRef  string `json:"fileRef"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// Document is a submitted document and its workflow state.
type Document struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	StudentID    string       `json:"studentId"`
	DocumentType DocumentType `json:"documentType"`
	FileMeta

	Status            Status      `json:"status"`
	CurrentStage      Stage       `json:"currentStage"`
	CurrentDepartment *Department `json:"currentDepartment"`
	AssignedTo        *string     `json:"assignedTo"`
	WorkflowID        *string     `json:"workflowId"`

	History        []HistoryEntry `json:"history"`
	SubmissionDate time.Time      `json:"submissionDate"`
	LastUpdated    time.Time      `json:"lastUpdated"`

	// Version increments on every write and guards conditional updates.
	Version int64 `json:"-"`
}

// InDepartment reports whether the document currently sits in d.
func (d *Document) InDepartment(dept Department) bool {
	return d.CurrentDepartment != nil && *d.CurrentDepartment == dept
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := *d
	if d.CurrentDepartment != nil {
		dept := *d.CurrentDepartment
		c.CurrentDepartment = &dept
	}
	if d.AssignedTo != nil {
		a := *d.AssignedTo
		c.AssignedTo = &a
	}
	if d.WorkflowID != nil {
		w := *d.WorkflowID
		c.WorkflowID = &w
	}
	c.History = make([]HistoryEntry, len(d.History))
	for i, h := range d.History {
		if h.ActorID != nil {
			a := *h.ActorID
			h.ActorID = &a
		}
		c.History[i] = h
	}
	return &c
}

// ── Queries and conditional writes ───────────────────────────────────────────

// DocumentOrder selects the sort order of Find.
type DocumentOrder int

const (
	OrderLastUpdatedDesc DocumentOrder = iota
	OrderSubmissionDesc
)

// DepartmentScope matches documents owned by Department, plus unrouted open
// documents (no current department, non-terminal status) whose type is one
// of UnroutedTypes.
type DepartmentScope struct {
	Department    Department
	UnroutedTypes []DocumentType
}

// DocumentFilter selects documents. Zero-valued fields do not constrain.
type DocumentFilter struct {
	StudentID     string
	Statuses      []Status
	DocumentTypes []DocumentType
	// Departments and IncludeUnrouted combine with OR:
	// current_department IN Departments OR (IncludeUnrouted AND current_department IS NULL).
	Departments     []Department
	IncludeUnrouted bool
	Scope           *DepartmentScope
	HistoryActorID  string
	Order           DocumentOrder
}

// Matches evaluates the filter in memory.
func (f DocumentFilter) Matches(d *Document) bool {
	if f.StudentID != "" && d.StudentID != f.StudentID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, d.Status) {
		return false
	}
	if len(f.DocumentTypes) > 0 && !slices.Contains(f.DocumentTypes, d.DocumentType) {
		return false
	}
	if len(f.Departments) > 0 || f.IncludeUnrouted {
		routed := d.CurrentDepartment != nil && slices.Contains(f.Departments, *d.CurrentDepartment)
		unrouted := f.IncludeUnrouted && d.CurrentDepartment == nil
		if !routed && !unrouted {
			return false
		}
	}
	if f.Scope != nil {
		owned := d.InDepartment(f.Scope.Department)
		unrouted := d.CurrentDepartment == nil && !d.Status.Terminal() &&
			slices.Contains(f.Scope.UnroutedTypes, d.DocumentType)
		if !owned && !unrouted {
			return false
		}
	}
	if f.HistoryActorID != "" {
		found := false
		for _, h := range d.History {
			if h.ActorID != nil && *h.ActorID == f.HistoryActorID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Condition is the predicate of a conditional update. All set fields must hold.
type Condition struct {
	// Version must equal the stored version.
	Version *int64
	// AssignableTo requires assigned_to IS NULL OR assigned_to = AssignableTo.
	AssignableTo string
	// Department requires current_department = Department.
	Department *Department
}

// Holds evaluates the condition in memory.
func (c Condition) Holds(d *Document) bool {
	if c.Version != nil && d.Version != *c.Version {
		return false
	}
	if c.AssignableTo != "" && d.AssignedTo != nil && *d.AssignedTo != c.AssignableTo {
		return false
	}
	if c.Department != nil && !d.InDepartment(*c.Department) {
		return false
	}
	return true
}

// DocumentPatch is the set of fields written by a conditional update.
type DocumentPatch struct {
	Status            *Status
	CurrentStage      *Stage
	CurrentDepartment *Department
	ClearDepartment   bool
	AssignedTo        *string
	ClearAssignee     bool
	AppendHistory     *HistoryEntry
	LastUpdated       time.Time
}

// Apply writes the patch onto d and bumps its version.
func (p DocumentPatch) Apply(d *Document) {
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.CurrentStage != nil {
		d.CurrentStage = *p.CurrentStage
	}
	if p.ClearDepartment {
		d.CurrentDepartment = nil
	} else if p.CurrentDepartment != nil {
		dept := *p.CurrentDepartment
		d.CurrentDepartment = &dept
	}
	if p.ClearAssignee {
		d.AssignedTo = nil
	} else if p.AssignedTo != nil {
		a := *p.AssignedTo
		d.AssignedTo = &a
	}
	if p.AppendHistory != nil {
		d.History = append(d.History, *p.AppendHistory)
	}
	d.LastUpdated = p.LastUpdated
	d.Version++
}
