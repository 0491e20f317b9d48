package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// Authenticate verifies the bearer token and resolves its principal. The
// principal is stored on the request context for handlers and the Require*
// middleware.
func Authenticate(issuer *Issuer, resolver *Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return apperr.Unauthorized("Not authenticated")
			}

			claims, err := issuer.Verify(token)
			if err != nil {
				return err
			}

			ctx := c.Request().Context()
			p, err := resolver.Resolve(ctx, claims)
			if err != nil {
				return err
			}

			logger := zerolog.Ctx(ctx).With().
				Str("principal_id", p.ID.String()).
				Str("principal_kind", p.Kind.String()).
				Logger()
			ctx = logger.WithContext(WithPrincipal(ctx, p))
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// RequireAdmin rejects principals whose role is not admin.
func RequireAdmin() echo.MiddlewareFunc {
	return requireRole("admin", "Admin only")
}

// RequirePatient rejects principals whose role is not patient.
func RequirePatient() echo.MiddlewareFunc {
	return requireRole("patient", "Patient only")
}

func requireRole(role, message string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return apperr.Unauthorized("Not authenticated")
			}
			if p.Role != role {
				return apperr.Forbidden(message)
			}
			return next(c)
		}
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(PrincipalKey).(*Principal)
	return p
}
