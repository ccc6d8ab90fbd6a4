package handler

import (
	"net/http"
	"strings"

	mid "dues-service/internal/middleware"
	"dues-service/internal/model"
	"dues-service/internal/tenancy"
	"dues-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListTenants lists tenants, filtered by ?status=a,b&search=&include_deleted=true
func (h *Handler) ListTenants(c echo.Context) error {
	f := tenancy.ListFilter{
		Search:         c.QueryParam("search"),
		IncludeDeleted: c.QueryParam("include_deleted") == "true",
		Limit:          queryInt(c, "limit", 50),
	}
	f.Offset = (queryInt(c, "page", 1) - 1) * f.Limit
	if s := c.QueryParam("status"); s != "" {
		for _, status := range strings.Split(s, ",") {
			f.Statuses = append(f.Statuses, model.TenantStatus(strings.TrimSpace(status)))
		}
	}
	return h.listTenants(c, f)
}

// PendingTenants lists registrations awaiting approval
func (h *Handler) PendingTenants(c echo.Context) error {
	return h.listTenants(c, tenancy.ListFilter{Statuses: []model.TenantStatus{model.TenantPending}})
}

// RejectedTenants lists rejected registrations
func (h *Handler) RejectedTenants(c echo.Context) error {
	return h.listTenants(c, tenancy.ListFilter{Statuses: []model.TenantStatus{model.TenantRejected}})
}

func (h *Handler) listTenants(c echo.Context, f tenancy.ListFilter) error {
	tenants, total, err := h.Registry.List(c.Request().Context(), f)
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tenants": tenants, "total": total})
}

// GetTenant returns one tenant
func (h *Handler) GetTenant(c echo.Context) error {
	t, err := h.Registry.FindByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// CurrentTenant returns the caller's tenant and whether access is limited
func (h *Handler) CurrentTenant(c echo.Context) error {
	tc := mid.TenantFrom(c)
	return c.JSON(http.StatusOK, echo.Map{"tenant": tc.Tenant, "limited": tc.Limited})
}

// UpdateTenantRequest holds the mutable tenant attributes
type UpdateTenantRequest struct {
	Name    *string             `json:"name"`
	Config  *model.TenantConfig `json:"config"`
	Contact *model.Contact      `json:"contact"`
}

// UpdateTenant changes name, config or contact
func (h *Handler) UpdateTenant(c echo.Context) error {
	var req UpdateTenantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	t, err := h.Registry.Update(c.Request().Context(), c.Param("id"), tenancy.TenantUpdate{
		Name:    req.Name,
		Config:  req.Config,
		Contact: req.Contact,
	})
	return h.tenantResult(c, "update", t, err)
}

// ApproveTenant activates a pending tenant
func (h *Handler) ApproveTenant(c echo.Context) error {
	t, err := h.Registry.Approve(c.Request().Context(), c.Param("id"), actor(c))
	return h.tenantResult(c, "approve", t, err)
}

// RejectTenant rejects a pending tenant with a reason
func (h *Handler) RejectTenant(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	t, err := h.Registry.Reject(c.Request().Context(), c.Param("id"), req.Reason)
	return h.tenantResult(c, "reject", t, err)
}

// ActivateTenant re-enables an inactive tenant
func (h *Handler) ActivateTenant(c echo.Context) error {
	t, err := h.Registry.Activate(c.Request().Context(), c.Param("id"))
	return h.tenantResult(c, "activate", t, err)
}

// DeactivateTenant suspends an active tenant
func (h *Handler) DeactivateTenant(c echo.Context) error {
	t, err := h.Registry.Deactivate(c.Request().Context(), c.Param("id"))
	return h.tenantResult(c, "deactivate", t, err)
}

// DeleteTenant archives the tenant; the record is kept
func (h *Handler) DeleteTenant(c echo.Context) error {
	t, err := h.Registry.SoftDelete(c.Request().Context(), c.Param("id"))
	if err == nil && h.Pool != nil {
		h.Pool.CloseHandle(t.StorageID)
	}
	return h.tenantResult(c, "delete", t, err)
}

// RestoreTenant brings an archived tenant back as active
func (h *Handler) RestoreTenant(c echo.Context) error {
	t, err := h.Registry.Restore(c.Request().Context(), c.Param("id"))
	return h.tenantResult(c, "restore", t, err)
}

func (h *Handler) tenantResult(c echo.Context, op string, t *model.Tenant, err error) error {
	log := logger.FromEcho(c)
	if err != nil {
		log.Warn("Tenant operation failed",
			zap.String("operation", op),
			zap.String("tenant_id", c.Param("id")),
			zap.Error(err))
		return mid.RespondError(c, err)
	}
	log.Info("Tenant operation completed",
		zap.String("operation", op),
		zap.String("tenant_id", t.ID),
		zap.String("status", string(t.Status)),
		zap.String("by", actor(c)))
	return c.JSON(http.StatusOK, t)
}
