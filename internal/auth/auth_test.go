package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-docflow/internal/errors"
	"github.com/pesio-ai/be-docflow/internal/repository"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		role       string
		department string
		want       UserContext
		code       errors.ErrorCode
	}{
		{name: "student", id: "s1", role: "student", want: UserContext{UserID: "s1", Role: repository.RoleStudent}},
		{name: "approver normalised", id: " a1 ", role: "Approver", department: "FINANCE",
			want: UserContext{UserID: "a1", Role: repository.RoleApprover, Department: repository.DepartmentFinance}},
		{name: "admin without department", id: "root", role: "admin", want: UserContext{UserID: "root", Role: repository.RoleAdmin}},
		{name: "missing id", role: "student", code: errors.ErrCodeAuthorization},
		{name: "bad role", id: "x", role: "dean", code: errors.ErrCodeAuthorization},
		{name: "bad department", id: "x", role: "approver", department: "library", code: errors.ErrCodeValidation},
		{name: "approver without department", id: "x", role: "approver", code: errors.ErrCodeAuthorization},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.id, tc.role, tc.department)
			if tc.code != "" {
				require.Error(t, err)
				assert.Equal(t, tc.code, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	u := UserContext{UserID: "a1", Role: repository.RoleApprover, Department: repository.DepartmentAdmissions}
	got, ok := FromContext(WithUser(context.Background(), u))
	require.True(t, ok)
	assert.Equal(t, u, got)

	actor := got.Actor()
	assert.Equal(t, "a1", actor.ID)
	assert.Equal(t, repository.DepartmentAdmissions, actor.Department)
}

func TestEchoMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(EchoMiddleware())
	e.GET("/whoami", func(c echo.Context) error {
		u, ok := FromContext(c.Request().Context())
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, u.UserID+"/"+string(u.Role)+"/"+string(u.Department))
	})

	t.Run("valid identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderUserID, "a1")
		req.Header.Set(HeaderUserRole, "approver")
		req.Header.Set(HeaderDepartment, "registrar")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "a1/approver/registrar", rec.Body.String())
	})

	t.Run("missing identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestUnaryServerInterceptor(t *testing.T) {
	interceptor := UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/docflow.v1.DocumentWorkflow/GetStats"}

	handler := func(ctx context.Context, _ any) (any, error) {
		u, ok := FromContext(ctx)
		if !ok {
			return nil, status.Error(codes.Internal, "no user")
		}
		return u, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"x-user-id", "root",
		"x-user-role", "admin",
	))
	resp, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, UserContext{UserID: "root", Role: repository.RoleAdmin}, resp)

	_, err = interceptor(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
