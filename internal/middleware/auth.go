package middleware

import (
	"net/http"
	"strings"

	"dues-service/internal/tenancy"
	"dues-service/pkg/jwtutil"
	"dues-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const principalKey = "principal"

// AuthMiddleware validates the bearer token and stores the principal on the
// echo context.
func AuthMiddleware(j *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := j.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid JWT token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set(principalKey, tenancy.Principal{
				UserID:   claims.UserID,
				Username: claims.Username,
				Role:     claims.Role,
				TenantID: claims.TenantID,
			})
			return next(c)
		}
	}
}

// PrincipalFrom returns the authenticated principal of the request
func PrincipalFrom(c echo.Context) (tenancy.Principal, bool) {
	p, ok := c.Get(principalKey).(tenancy.Principal)
	return p, ok
}

// RequireRoles lets the request through only for the listed roles
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}
			for _, r := range roles {
				if p.Role == r {
					return next(c)
				}
			}
			logger.FromEcho(c).Warn("Role not permitted",
				zap.String("user_id", p.UserID),
				zap.String("role", p.Role))
			return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient permissions"})
		}
	}
}
