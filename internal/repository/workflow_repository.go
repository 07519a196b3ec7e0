package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-docflow/internal/database"
	"github.com/pesio-ai/be-docflow/internal/errors"
)

// WorkflowRepository is the Postgres WorkflowStore. Stages are stored as a
// JSONB array sorted by order.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `id, name, document_type, stages, is_active, created_at, updated_at`

// GetActiveWorkflow returns the active workflow for a document type.
// Returns nil when none exists.
func (r *WorkflowRepository) GetActiveWorkflow(ctx context.Context, documentType DocumentType) (*WorkflowDefinition, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow_definitions
		WHERE document_type = $1 AND is_active
		LIMIT 1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, string(documentType)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active workflow")
	}
	return wf, nil
}

// GetByID retrieves a workflow by its primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_definitions WHERE id = $1`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow")
	}
	return wf, nil
}

// List returns every workflow ordered by name.
func (r *WorkflowRepository) List(ctx context.Context) ([]*WorkflowDefinition, error) {
	rows, err := r.db.Query(ctx, `SELECT `+workflowColumns+` FROM workflow_definitions ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	var out []*WorkflowDefinition
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow")
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// Save validates, sorts and upserts the definition.
func (r *WorkflowRepository) Save(ctx context.Context, def *WorkflowDefinition) error {
	if err := def.Normalize(); err != nil {
		return err
	}
	stagesJSON, err := json.Marshal(def.Stages)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow stages")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var clash string
		err := tx.QueryRow(ctx, `
			SELECT CASE WHEN name = $2 THEN 'name' ELSE 'documentType' END
			FROM workflow_definitions
			WHERE id <> $1
			  AND (name = $2 OR ($4 AND is_active AND document_type = $3))
			LIMIT 1
		`, def.ID, def.Name, string(def.DocumentType), def.IsActive).Scan(&clash)
		switch {
		case err == nil:
			if clash == "name" {
				return errors.InvalidInput("name", fmt.Sprintf("workflow name %q already in use", def.Name))
			}
			return errors.InvalidInput("documentType",
				fmt.Sprintf("an active workflow for %q already exists", def.DocumentType))
		case err != pgx.ErrNoRows:
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check workflow uniqueness")
		}

		if def.ID == "" {
			err = tx.QueryRow(ctx, `
				INSERT INTO workflow_definitions (name, document_type, stages, is_active)
				VALUES ($1, $2, $3, $4)
				RETURNING id, created_at, updated_at
			`, def.Name, string(def.DocumentType), stagesJSON, def.IsActive).
				Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)
		} else {
			err = tx.QueryRow(ctx, `
				UPDATE workflow_definitions
				SET name          = $2,
				    document_type = $3,
				    stages        = $4,
				    is_active     = $5,
				    updated_at    = NOW()
				WHERE id = $1
				RETURNING created_at, updated_at
			`, def.ID, def.Name, string(def.DocumentType), stagesJSON, def.IsActive).
				Scan(&def.CreatedAt, &def.UpdatedAt)
			if err == pgx.ErrNoRows {
				return errors.NotFound("workflow", def.ID)
			}
		}
		if isUniqueViolation(err) {
			return errors.Wrap(err, errors.ErrCodeValidation, "workflow name or active document type already in use")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to save workflow")
		}
		return nil
	})
}

// PatchStageDepartment rewrites one stage's department in a single UPDATE.
func (r *WorkflowRepository) PatchStageDepartment(ctx context.Context, workflowID string, order int, dept Department) error {
	query := `
		UPDATE workflow_definitions
		SET stages = (
		        SELECT jsonb_agg(
		                   CASE WHEN (s->>'order')::int = $2
		                        THEN jsonb_set(s, '{department}', to_jsonb($3::text))
		                        ELSE s END
		                   ORDER BY ord)
		        FROM jsonb_array_elements(stages) WITH ORDINALITY AS t(s, ord)
		    ),
		    updated_at = NOW()
		WHERE id = $1
		  AND EXISTS (SELECT 1 FROM jsonb_array_elements(stages) s WHERE (s->>'order')::int = $2)
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, workflowID, order, string(dept)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow stage", fmt.Sprintf("%s/%d", workflowID, order))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to patch workflow stage")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*WorkflowDefinition, error) {
	var (
		wf         WorkflowDefinition
		docType    string
		stagesJSON []byte
	)
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&docType,
		&stagesJSON,
		&wf.IsActive,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.DocumentType = DocumentType(docType)
	if err := json.Unmarshal(stagesJSON, &wf.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal workflow stages: %w", err)
	}
	return &wf, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
