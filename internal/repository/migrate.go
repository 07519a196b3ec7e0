package repository

import (
	"context"
	_ "embed"

	"github.com/pesio-ai/be-docflow/internal/database"
	"github.com/pesio-ai/be-docflow/internal/errors"
)

//go:embed migrations/schema.sql
var schemaSQL string

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply schema")
	}
	return nil
}
