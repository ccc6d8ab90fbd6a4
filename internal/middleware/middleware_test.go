package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dues-service/internal/account"
	"dues-service/internal/model"
	"dues-service/internal/store"
	"dues-service/internal/tenancy"
	"dues-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFunc func(ctx context.Context, p tenancy.Principal) (*tenancy.Context, error)

func (f resolverFunc) Resolve(ctx context.Context, p tenancy.Principal) (*tenancy.Context, error) {
	return f(ctx, p)
}

func serve(e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func newJWT() *jwtutil.JWTUtil {
	return jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-key", ExpirationHours: 1})
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	e := echo.New()
	e.Use(RequestIDMiddleware)
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get(RequestIDKey).(string))
	})

	rec, _ := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDKey))
	assert.Equal(t, rec.Header().Get(RequestIDKey), rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDKey, "abc")
	rec, _ = serve(e, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDKey))
}

func TestAuthMiddleware(t *testing.T) {
	j := newJWT()
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		return c.JSON(http.StatusOK, echo.Map{"user_id": p.UserID, "tenant_id": p.TenantID, "role": p.Role})
	}, AuthMiddleware(j))

	rec, _ := serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Token abc")
	rec, _ = serve(e, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	rec, _ = serve(e, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := j.GenerateToken("u1", "ada", model.RoleAdmin, "t1")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec, body := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, "t1", body["tenant_id"])
	assert.Equal(t, model.RoleAdmin, body["role"])
}

func TestRequireRoles(t *testing.T) {
	e := echo.New()
	as := func(role string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				c.Set(principalKey, tenancy.Principal{UserID: "u", Role: role})
				return next(c)
			}
		}
	}
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.GET("/system", ok, as(model.RoleSystem), RequireRoles(model.RoleSystem))
	e.GET("/admin", ok, as(model.RoleAdmin), RequireRoles(model.RoleSystem))
	e.GET("/anon", ok, RequireRoles(model.RoleSystem))

	rec, _ := serve(e, httptest.NewRequest(http.MethodGet, "/system", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = serve(e, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = serve(e, httptest.NewRequest(http.MethodGet, "/anon", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTenantContextMapsResolutionErrors(t *testing.T) {
	j := newJWT()
	tenant := &model.Tenant{ID: "t1", Name: "Acme", Slug: "acme", Status: model.TenantRejected, RejectionReason: "duplicate registration"}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &tenancy.TenantError{Kind: tenancy.ErrTenantNotFound, TenantID: "t1"}, http.StatusNotFound, "tenant_not_found"},
		{"gone", &tenancy.TenantError{Kind: tenancy.ErrTenantGone, TenantID: "t1"}, http.StatusGone, "tenant_gone"},
		{"rejected", &tenancy.TenantError{Kind: tenancy.ErrTenantRejected, TenantID: "t1", Slug: "acme", Reason: tenant.RejectionReason}, http.StatusForbidden, "tenant_rejected"},
		{"inactive", &tenancy.TenantError{Kind: tenancy.ErrTenantInactive, TenantID: "t1"}, http.StatusForbidden, "tenant_inactive"},
		{"storage", &tenancy.TenantError{Kind: tenancy.ErrTenantStorage, TenantID: "t1", Err: errors.New("dial tcp")}, http.StatusServiceUnavailable, "tenant_storage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			r := resolverFunc(func(ctx context.Context, p tenancy.Principal) (*tenancy.Context, error) {
				return nil, tt.err
			})
			e.GET("/x", func(c echo.Context) error {
				t.Fatal("handler must not run")
				return nil
			}, AuthMiddleware(j), TenantContext(r))

			token, err := j.GenerateToken("u1", "ada", model.RoleAdmin, "t1")
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)

			rec, body := serve(e, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
			if tt.name == "rejected" {
				assert.Equal(t, "duplicate registration", body["reason"])
			}
		})
	}
}

func TestTenantContextAttachesAndReleases(t *testing.T) {
	j := newJWT()
	tenant := &model.Tenant{ID: "t1", Name: "Acme", Slug: "acme", Status: model.TenantPending}

	var seen tenancy.Principal
	r := resolverFunc(func(ctx context.Context, p tenancy.Principal) (*tenancy.Context, error) {
		seen = p
		return &tenancy.Context{Principal: p, Tenant: tenant, Limited: true}, nil
	})

	e := echo.New()
	g := e.Group("/api", AuthMiddleware(j), TenantContext(r), RequireTenant)
	g.GET("/members", func(c echo.Context) error {
		tc := TenantFrom(c)
		require.NotNil(t, tc)
		return c.JSON(http.StatusOK, echo.Map{"tenant": tc.TenantID(), "limited": tc.Limited})
	})
	g.POST("/members", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, RequireWritable)

	token, err := j.GenerateToken("u1", "ada", model.RoleAdmin, "t1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/members", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec, body := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", body["tenant"])
	assert.Equal(t, true, body["limited"])
	assert.Equal(t, "t1", seen.TenantID)

	req = httptest.NewRequest(http.MethodPost, "/api/members", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec, body = serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "tenant_read_only", body["code"])
}

func TestRequireTenantRejectsSystemContext(t *testing.T) {
	j := newJWT()
	r := resolverFunc(func(ctx context.Context, p tenancy.Principal) (*tenancy.Context, error) {
		return &tenancy.Context{Principal: p}, nil
	})
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		AuthMiddleware(j), TenantContext(r), RequireTenant)

	token, err := j.GenerateToken("root", "root", model.RoleSystem, "")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec, body := serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "system_principal", body["code"])
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{tenancy.ErrNotFound, http.StatusNotFound},
		{account.ErrUserNotFound, http.StatusNotFound},
		{tenancy.ErrInvalidStateTransition, http.StatusConflict},
		{tenancy.ErrConflict, http.StatusConflict},
		{account.ErrUserExists, http.StatusConflict},
		{store.ErrInUse, http.StatusConflict},
		{store.ErrSystemRecord, http.StatusForbidden},
		{tenancy.ErrTenantReadOnly, http.StatusForbidden},
		{tenancy.ErrValidation, http.StatusBadRequest},
		{account.ErrInvalidUser, http.StatusBadRequest},
		{account.ErrInvalidCredentials, http.StatusUnauthorized},
		{tenancy.ErrPoolClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusOf(tt.err), tt.err.Error())
	}
}
