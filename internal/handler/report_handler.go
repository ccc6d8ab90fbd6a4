package handler

import (
	"net/http"

	mid "dues-service/internal/middleware"

	"github.com/labstack/echo/v4"
)

// Dashboard returns the tenant's financial overview
func (h *Handler) Dashboard(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	d, err := m.Dashboard(c.Request().Context())
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// SubgroupPerformance ranks subgroups by amount collected
func (h *Handler) SubgroupPerformance(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	stats, err := m.SubgroupPerformance(c.Request().Context())
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
