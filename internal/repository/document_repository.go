package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-docflow/internal/database"
	"github.com/pesio-ai/be-docflow/internal/errors"
)

// DocumentRepository is the Postgres DocumentStore. History rows live in the
// append-only document_history table.
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `
	d.id, d.title, d.description, d.student_id, d.document_type,
	d.file_ref, d.file_name, d.file_type, d.file_size,
	d.status, d.current_stage, d.current_department, d.assigned_to, d.workflow_id,
	d.submission_date, d.last_updated, d.version`

// Create inserts the document and its initial history in one transaction.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO documents
			    (id, title, description, student_id, document_type,
			     file_ref, file_name, file_type, file_size,
			     status, current_stage, current_department, assigned_to, workflow_id,
			     submission_date, last_updated, version)
			VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5,
			        $6, $7, $8, $9,
			        $10, $11, $12, $13, $14,
			        $15, $16, 1)
			RETURNING id, version
		`

		err := tx.QueryRow(ctx, query,
			doc.ID,
			doc.Title,
			doc.Description,
			doc.StudentID,
			string(doc.DocumentType),
			doc.FileRef,
			doc.FileName,
			doc.FileType,
			doc.FileSize,
			string(doc.Status),
			doc.CurrentStage.String(),
			departmentArg(doc.CurrentDepartment),
			doc.AssignedTo,
			doc.WorkflowID,
			doc.SubmissionDate,
			doc.LastUpdated,
		).Scan(&doc.ID, &doc.Version)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document")
		}

		for i := range doc.History {
			if err := insertHistory(ctx, tx, doc.ID, &doc.History[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get retrieves a document with its history.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*Document, error) {
	return getDocument(ctx, r.db, id)
}

// Find returns documents matching filter with their history.
func (r *DocumentRepository) Find(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	where, args := buildDocumentWhere(filter)

	order := "d.last_updated DESC, d.id"
	if filter.Order == OrderSubmissionDesc {
		order = "d.submission_date DESC, d.id"
	}

	query := `SELECT ` + documentColumns + ` FROM documents d` + where + ` ORDER BY ` + order

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find documents")
	}
	defer rows.Close()

	var docs []*Document
	byID := make(map[string]*Document)
	ids := make([]string, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document")
		}
		docs = append(docs, doc)
		byID[doc.ID] = doc
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate documents")
	}
	if len(docs) == 0 {
		return docs, nil
	}

	if err := loadHistories(ctx, r.db, ids, byID); err != nil {
		return nil, err
	}
	return docs, nil
}

// Count returns the number of documents matching filter.
func (r *DocumentRepository) Count(ctx context.Context, filter DocumentFilter) (int64, error) {
	where, args := buildDocumentWhere(filter)

	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents d`+where, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count documents")
	}
	return n, nil
}

// ConditionalUpdate applies patch in a single UPDATE ... WHERE <condition>,
// appending the history row in the same transaction.
func (r *DocumentRepository) ConditionalUpdate(ctx context.Context, id string, cond Condition, patch DocumentPatch) (*Document, error) {
	var updated *Document

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		args := []any{id}
		param := func(v any) string {
			args = append(args, v)
			return fmt.Sprintf("$%d", len(args))
		}

		sets := []string{
			"last_updated = " + param(patch.LastUpdated),
			"version = d.version + 1",
		}
		if patch.Status != nil {
			sets = append(sets, "status = "+param(string(*patch.Status)))
		}
		if patch.CurrentStage != nil {
			sets = append(sets, "current_stage = "+param(patch.CurrentStage.String()))
		}
		if patch.ClearDepartment {
			sets = append(sets, "current_department = NULL")
		} else if patch.CurrentDepartment != nil {
			sets = append(sets, "current_department = "+param(string(*patch.CurrentDepartment)))
		}
		if patch.ClearAssignee {
			sets = append(sets, "assigned_to = NULL")
		} else if patch.AssignedTo != nil {
			sets = append(sets, "assigned_to = "+param(*patch.AssignedTo))
		}

		conds := []string{"d.id = $1"}
		if cond.Version != nil {
			conds = append(conds, "d.version = "+param(*cond.Version))
		}
		if cond.AssignableTo != "" {
			p := param(cond.AssignableTo)
			conds = append(conds, "(d.assigned_to IS NULL OR d.assigned_to = "+p+")")
		}
		if cond.Department != nil {
			conds = append(conds, "d.current_department = "+param(string(*cond.Department)))
		}

		query := `UPDATE documents d SET ` + strings.Join(sets, ", ") +
			` WHERE ` + strings.Join(conds, " AND ") +
			` RETURNING ` + documentColumns

		doc, err := scanDocument(tx.QueryRow(ctx, query, args...))
		if err == pgx.ErrNoRows {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to check document")
			}
			if !exists {
				return errors.NotFound("document", id)
			}
			return ErrConditionNotMet
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update document")
		}

		if patch.AppendHistory != nil {
			if err := insertHistory(ctx, tx, id, patch.AppendHistory); err != nil {
				return err
			}
		}
		if err := loadHistories(ctx, tx, []string{id}, map[string]*Document{id: doc}); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ── query helpers ─────────────────────────────────────────────────────────────

func getDocument(ctx context.Context, q database.Querier, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents d WHERE d.id = $1`

	doc, err := scanDocument(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document")
	}
	if err := loadHistories(ctx, q, []string{id}, map[string]*Document{id: doc}); err != nil {
		return nil, err
	}
	return doc, nil
}

func buildDocumentWhere(f DocumentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.StudentID != "" {
		conds = append(conds, "d.student_id = "+param(f.StudentID))
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "d.status = ANY("+param(toStrings(f.Statuses))+")")
	}
	if len(f.DocumentTypes) > 0 {
		conds = append(conds, "d.document_type = ANY("+param(toStrings(f.DocumentTypes))+")")
	}
	if len(f.Departments) > 0 || f.IncludeUnrouted {
		var ors []string
		if len(f.Departments) > 0 {
			ors = append(ors, "d.current_department = ANY("+param(toStrings(f.Departments))+")")
		}
		if f.IncludeUnrouted {
			ors = append(ors, "d.current_department IS NULL")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if f.Scope != nil {
		owned := "d.current_department = " + param(string(f.Scope.Department))
		if len(f.Scope.UnroutedTypes) > 0 {
			unrouted := "(d.current_department IS NULL AND d.status NOT IN ('approved', 'rejected', 'returned') AND d.document_type = ANY(" +
				param(toStrings(f.Scope.UnroutedTypes)) + "))"
			conds = append(conds, "("+owned+" OR "+unrouted+")")
		} else {
			conds = append(conds, owned)
		}
	}
	if f.HistoryActorID != "" {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM document_history h WHERE h.document_id = d.id AND h.actor_id = "+param(f.HistoryActorID)+")")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func insertHistory(ctx context.Context, q database.Querier, documentID string, h *HistoryEntry) error {
	query := `
		INSERT INTO document_history
		    (document_id, seq, stage, actor_id, action, comment, created_at)
		VALUES ($1,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM document_history WHERE document_id = $1),
		        $2, $3, $4, $5, $6)
	`

	_, err := q.Exec(ctx, query,
		documentID,
		h.Stage.String(),
		h.ActorID,
		string(h.Action),
		h.Comment,
		h.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append document history")
	}
	return nil
}

func loadHistories(ctx context.Context, q database.Querier, ids []string, byID map[string]*Document) error {
	query := `
		SELECT document_id, stage, actor_id, action, comment, created_at
		FROM document_history
		WHERE document_id = ANY($1)
		ORDER BY document_id, seq ASC
	`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load document history")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			documentID, stage, action string
			h                         HistoryEntry
		)
		if err := rows.Scan(&documentID, &stage, &h.ActorID, &action, &h.Comment, &h.Timestamp); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		h.Stage = ParseStage(stage)
		h.Action = HistoryAction(action)
		if doc, ok := byID[documentID]; ok {
			doc.History = append(doc.History, h)
		}
	}
	return rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type documentScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row documentScanner) (*Document, error) {
	var (
		doc                    Document
		docType, status, stage string
		department             *string
	)
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Description,
		&doc.StudentID,
		&docType,
		&doc.FileRef,
		&doc.FileName,
		&doc.FileType,
		&doc.FileSize,
		&status,
		&stage,
		&department,
		&doc.AssignedTo,
		&doc.WorkflowID,
		&doc.SubmissionDate,
		&doc.LastUpdated,
		&doc.Version,
	)
	if err != nil {
		return nil, err
	}

	doc.DocumentType = DocumentType(docType)
	doc.Status = Status(status)
	doc.CurrentStage = ParseStage(stage)
	if department != nil && *department != "" {
		dept := Department(*department)
		doc.CurrentDepartment = &dept
	}
	return &doc, nil
}

func departmentArg(d *Department) *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
