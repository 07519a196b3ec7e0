// Package auth carries the caller identity established by the upstream
// gateway. Credentials are verified before requests reach this service; the
// identity arrives as trusted headers (HTTP) or metadata (gRPC).
package auth

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/repository"
	"github.com/pesio-ai/be-docflow/internal/service"
)

// Header names. gRPC metadata keys are the lower-cased forms.
const (
	HeaderUserID     = "X-User-ID"
	HeaderUserRole   = "X-User-Role"
	HeaderDepartment = "X-User-Department"
)

// UserContext is the authenticated caller.
type UserContext struct {
	UserID     string
	Role       repository.Role
	Department repository.Department
}

// Actor converts the identity into the engine's actor value.
func (u UserContext) Actor() service.Actor {
	return service.Actor{ID: u.UserID, Role: u.Role, Department: u.Department}
}

// Parse validates raw identity values.
func Parse(userID, role, department string) (UserContext, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserContext{}, errors.Forbidden("missing caller identity")
	}
	r := repository.Role(strings.ToLower(strings.TrimSpace(role)))
	if !r.Valid() {
		return UserContext{}, errors.Forbidden("invalid caller role")
	}
	d := repository.Department(strings.ToLower(strings.TrimSpace(department)))
	if d != "" && !d.Valid() {
		return UserContext{}, errors.InvalidInput("department", "unknown department "+string(d))
	}
	if r == repository.RoleApprover && d == "" {
		return UserContext{}, errors.Forbidden("approver has no department")
	}
	return UserContext{UserID: userID, Role: r, Department: d}, nil
}

type contextKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u UserContext) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext returns the caller stored by WithUser.
func FromContext(ctx context.Context) (UserContext, bool) {
	u, ok := ctx.Value(contextKey{}).(UserContext)
	return u, ok
}
