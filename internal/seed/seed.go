// Package seed loads workflow definitions and directory users from YAML.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
)

// File is the seed document layout.
type File struct {
	Workflows []Workflow `yaml:"workflows"`
	Users     []User     `yaml:"users"`
}

// User is one directory entry. IsActive defaults to true.
type User struct {
	ID         string                 `yaml:"id"`
	Username   string                 `yaml:"username"`
	Email      string                 `yaml:"email"`
	Role       repository.Role        `yaml:"role"`
	Department *repository.Department `yaml:"department"`
	IsActive   *bool                  `yaml:"isActive"`
}

// Workflow is one workflow entry. IsActive defaults to true.
type Workflow struct {
	Name         string                  `yaml:"name"`
	DocumentType repository.DocumentType `yaml:"documentType"`
	IsActive     *bool                   `yaml:"isActive"`
	Stages       []Stage                 `yaml:"stages"`
}

// Stage is one workflow stage. ApprovalRequired defaults to true.
type Stage struct {
	Department       repository.Department `yaml:"department"`
	Order            int                   `yaml:"order"`
	ApprovalRequired *bool                 `yaml:"approvalRequired"`
	TimeLimitHours   int                   `yaml:"timeLimitHours"`
}

func (st Stage) toRepository() repository.WorkflowStage {
	return repository.WorkflowStage{
		Department:       st.Department,
		Order:            st.Order,
		ApprovalRequired: st.ApprovalRequired == nil || *st.ApprovalRequired,
		TimeLimitHours:   st.TimeLimitHours,
	}
}

// UserWriter stores directory users.
type UserWriter interface {
	Put(ctx context.Context, u repository.User) error
}

// Parse decodes a seed file. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &f, nil
}

// ParseFile opens and decodes path.
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Parse(fh)
}

// Apply saves every workflow through the store (sorting and validating
// stages) and upserts every user. Workflows are matched to existing ones by
// name, so seeding twice updates in place.
func Apply(ctx context.Context, f *File, workflows repository.WorkflowStore, users UserWriter, log *logger.Logger) error {
	existing, err := workflows.List(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]string, len(existing))
	for _, wf := range existing {
		byName[wf.Name] = wf.ID
	}

	for _, w := range f.Workflows {
		active := true
		if w.IsActive != nil {
			active = *w.IsActive
		}
		def := &repository.WorkflowDefinition{
			ID:           byName[w.Name],
			Name:         w.Name,
			DocumentType: w.DocumentType,
			IsActive:     active,
		}
		for _, st := range w.Stages {
			def.Stages = append(def.Stages, st.toRepository())
		}
		if err := workflows.Save(ctx, def); err != nil {
			return fmt.Errorf("workflow %q: %w", w.Name, err)
		}
		log.Info().Str("workflow_id", def.ID).Str("name", def.Name).Msg("Seeded workflow")
	}

	for _, u := range f.Users {
		if u.ID == "" {
			return fmt.Errorf("user %q: id is required", u.Username)
		}
		if !u.Role.Valid() {
			return fmt.Errorf("user %q: invalid role %q", u.ID, u.Role)
		}
		if u.Department != nil && !u.Department.Valid() {
			return fmt.Errorf("user %q: invalid department %q", u.ID, *u.Department)
		}
		active := true
		if u.IsActive != nil {
			active = *u.IsActive
		}
		err := users.Put(ctx, repository.User{
			ID:         u.ID,
			Username:   u.Username,
			Email:      u.Email,
			Role:       u.Role,
			Department: u.Department,
			IsActive:   active,
		})
		if err != nil {
			return fmt.Errorf("user %q: %w", u.ID, err)
		}
	}
	log.Info().Int("workflows", len(f.Workflows)).Int("users", len(f.Users)).Msg("Seed applied")
	return nil
}
