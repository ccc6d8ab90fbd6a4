package handler

import (
	"strconv"
	"time"

	"dues-service/internal/account"
	mid "dues-service/internal/middleware"
	"dues-service/internal/store"
	"dues-service/internal/tenancy"
	"dues-service/pkg/jwtutil"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
)

// Deps are the collaborators the HTTP layer is built on
type Deps struct {
	Registry   *tenancy.Registry
	Users      *account.Store
	Resolver   mid.Resolver
	Onboarding *tenancy.Onboarding
	Accessor   store.Accessor
	Pool       *tenancy.Pool
	JWT        *jwtutil.JWTUtil
	Clock      clock.Clock
}

// Handler serves the HTTP API
type Handler struct {
	Deps
}

// New creates the handler set
func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Handler{Deps: d}
}

// models returns the accessors of the request's tenant
func (h *Handler) models(c echo.Context) (*store.Models, error) {
	return h.Accessor.Models(mid.TenantFrom(c))
}

// actor is the user id recorded on writes
func actor(c echo.Context) string {
	p, _ := mid.PrincipalFrom(c)
	return p.UserID
}

func queryInt(c echo.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.QueryParam(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func queryTime(c echo.Context, name string) (time.Time, bool) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// page applies page/limit query parameters to q
func page(c echo.Context, q *store.Query) *store.Query {
	return q.Page(queryInt(c, "page", 1), queryInt(c, "limit", 50))
}
