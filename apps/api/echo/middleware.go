package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// claimsMiddleware lets the request through when `allow` accepts the token's Claims.
func claimsMiddleware(allow func(Claims) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if allow(claims) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// adminMiddleware requires an admin; with `roles`, one of them too.
func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return claimsMiddleware(func(c Claims) bool {
		return c.IsAdmin && c.hasAnyRole(roles)
	})
}

// teacherMiddleware lets through teachers and admins, who may manage any elective.
func teacherMiddleware() echo.MiddlewareFunc {
	return claimsMiddleware(func(c Claims) bool { return c.IsTeacher || c.IsAdmin })
}

func studentMiddleware() echo.MiddlewareFunc {
	return claimsMiddleware(func(c Claims) bool { return c.IsStudent })
}
