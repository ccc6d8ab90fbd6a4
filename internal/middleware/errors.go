package middleware

import (
	"errors"
	"net/http"

	"dues-service/internal/account"
	"dues-service/internal/store"
	"dues-service/internal/tenancy"
	"dues-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// StatusOf maps a core error to its HTTP status
func StatusOf(err error) int {
	switch {
	case errors.Is(err, tenancy.ErrTenantNotFound), errors.Is(err, tenancy.ErrNotFound),
		errors.Is(err, account.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenancy.ErrTenantGone):
		return http.StatusGone
	case errors.Is(err, tenancy.ErrTenantRejected), errors.Is(err, tenancy.ErrTenantInactive),
		errors.Is(err, tenancy.ErrTenantReadOnly), errors.Is(err, tenancy.ErrSystemPrincipal),
		errors.Is(err, store.ErrSystemRecord):
		return http.StatusForbidden
	case errors.Is(err, tenancy.ErrTenantStorage), errors.Is(err, tenancy.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, tenancy.ErrInvalidStateTransition), errors.Is(err, tenancy.ErrConflict),
		errors.Is(err, account.ErrUserExists), errors.Is(err, store.ErrInUse):
		return http.StatusConflict
	case errors.Is(err, tenancy.ErrValidation), errors.Is(err, account.ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as a JSON body carrying the error kind and, for
// tenant errors, the tenant details needed to explain it.
func RespondError(c echo.Context, err error) error {
	status := StatusOf(err)
	body := echo.Map{
		"error": err.Error(),
		"code":  tenancy.KindName(err),
	}

	var te *tenancy.TenantError
	if errors.As(err, &te) {
		body["error"] = te.Kind.Error()
		if te.TenantID != "" || te.Slug != "" {
			body["tenant"] = echo.Map{
				"id":     te.TenantID,
				"name":   te.TenantName,
				"slug":   te.Slug,
				"status": te.Status,
			}
		}
		if te.Reason != "" {
			body["reason"] = te.Reason
		}
	}

	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		logger.FromEcho(c).Error("Request failed", zap.Error(err))
		if status == http.StatusInternalServerError {
			body["error"] = "internal server error"
		}
	}
	return c.JSON(status, body)
}
