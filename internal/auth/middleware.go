package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// EchoMiddleware reads the identity headers and stores the caller on the
// request context. Requests without a valid identity get 401.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			u, err := Parse(h.Get(HeaderUserID), h.Get(HeaderUserRole), h.Get(HeaderDepartment))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			req := c.Request()
			c.SetRequest(req.WithContext(WithUser(req.Context(), u)))
			return next(c)
		}
	}
}

// UnaryServerInterceptor does the same for gRPC, reading incoming metadata.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		u, err := Parse(first(md, HeaderUserID), first(md, HeaderUserRole), first(md, HeaderDepartment))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithUser(ctx, u), req)
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(strings.ToLower(key)); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
