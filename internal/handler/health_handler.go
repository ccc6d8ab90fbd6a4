package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health reports liveness and the partitions currently open
func (h *Handler) Health(c echo.Context) error {
	resp := echo.Map{"status": "ok"}
	if h.Accessor != nil {
		resp["strategy"] = h.Accessor.Strategy()
	}
	if h.Pool != nil {
		resp["active_partitions"] = len(h.Pool.ListActive())
	}
	return c.JSON(http.StatusOK, resp)
}
