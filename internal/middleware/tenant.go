package middleware

import (
	"context"
	"net/http"

	"dues-service/internal/tenancy"
	"dues-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const tenantContextKey = "tenant_context"

// Resolver resolves the tenant scope of a principal
type Resolver interface {
	Resolve(ctx context.Context, p tenancy.Principal) (*tenancy.Context, error)
}

// TenantContext resolves the principal's tenant before the handler runs and
// releases the partition handle once it returns. Resolution failures end the
// request.
func TenantContext(r Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}

			tc, err := r.Resolve(c.Request().Context(), p)
			if err != nil {
				logger.FromEcho(c).Warn("Tenant resolution failed",
					zap.String("user_id", p.UserID),
					zap.String("tenant_id", p.TenantID),
					zap.Error(err))
				return RespondError(c, err)
			}
			defer tc.Release()

			if tc.Tenant != nil {
				logger.WithTenant(c, tc.Tenant.ID, tc.Tenant.StorageID)
			}
			c.Set(tenantContextKey, tc)
			return next(c)
		}
	}
}

// TenantFrom returns the resolved tenant scope of the request
func TenantFrom(c echo.Context) *tenancy.Context {
	tc, _ := c.Get(tenantContextKey).(*tenancy.Context)
	return tc
}

// RequireWritable refuses requests from tenants that are still pending approval
func RequireWritable(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if tc := TenantFrom(c); tc != nil && tc.Limited {
			return RespondError(c, &tenancy.TenantError{
				Kind:       tenancy.ErrTenantReadOnly,
				TenantID:   tc.Tenant.ID,
				TenantName: tc.Tenant.Name,
				Slug:       tc.Tenant.Slug,
				Status:     tc.Tenant.Status,
			})
		}
		return next(c)
	}
}

// RequireTenant refuses principals that resolved without a tenant
func RequireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if tc := TenantFrom(c); tc == nil || tc.IsSystem() {
			return RespondError(c, tenancy.ErrSystemPrincipal)
		}
		return next(c)
	}
}
