package handler

import (
	"net/http"

	"dues-service/internal/account"
	mid "dues-service/internal/middleware"
	"dues-service/internal/model"
	"dues-service/internal/tenancy"
	"dues-service/pkg/logger"
	"dues-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// LoginRequest carries user credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a user and issues a token. Tenant users pass the same
// gate as every tenant request: a rejected tenant blocks login, a pending one
// logs in with limited access, and an unbound user is assigned the default
// tenant first.
func (h *Handler) Login(c echo.Context) error {
	log := logger.FromEcho(c)
	ctx := c.Request().Context()

	var req LoginRequest
	if err := c.Bind(&req); err != nil || req.Username == "" || req.Password == "" {
		prometheus.RecordLogin("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username and password are required"})
	}

	user, err := h.Users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		log.Warn("Login failed", zap.String("username", req.Username), zap.Error(err))
		prometheus.RecordLogin("invalid_credentials")
		return mid.RespondError(c, err)
	}

	p := tenancy.Principal{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		TenantID: user.TenantRef(),
	}

	response := echo.Map{}
	if !p.IsSystem() {
		tc, err := h.Resolver.Resolve(ctx, p)
		if err != nil {
			log.Warn("Login blocked by tenant status", zap.String("user_id", user.ID), zap.Error(err))
			prometheus.RecordLogin(tenancy.KindName(err))
			return mid.RespondError(c, err)
		}
		tc.Release()
		p = tc.Principal
		response["tenant"] = echo.Map{
			"id":      tc.Tenant.ID,
			"name":    tc.Tenant.Name,
			"slug":    tc.Tenant.Slug,
			"status":  tc.Tenant.Status,
			"config":  tc.Tenant.Config,
			"limited": tc.Limited,
		}
	}

	token, err := h.JWT.GenerateToken(p.UserID, p.Username, p.Role, p.TenantID)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordLogin("token_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	if err := h.Users.TouchLastLogin(ctx, user.ID); err != nil {
		log.Warn("Failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	prometheus.RecordLogin("success")

	log.Info("User logged in",
		zap.String("user_id", user.ID),
		zap.String("role", p.Role),
		zap.String("tenant_id", p.TenantID))

	response["token"] = token
	response["user"] = echo.Map{
		"id":        user.ID,
		"username":  user.Username,
		"email":     user.Email,
		"role":      user.Role,
		"tenant_id": p.TenantID,
	}
	return c.JSON(http.StatusOK, response)
}

// RegisterRequest is a self-service tenant registration
type RegisterRequest struct {
	Name          string        `json:"name"`
	Slug          string        `json:"slug"`
	StorageID     string        `json:"storage_id"`
	Contact       model.Contact `json:"contact"`
	AdminUsername string        `json:"admin_username"`
	AdminEmail    string        `json:"admin_email"`
	AdminPassword string        `json:"admin_password"`
}

// RegisterTenant creates a pending tenant with its admin user
func (h *Handler) RegisterTenant(c echo.Context) error {
	log := logger.FromEcho(c)

	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	tenant, admin, err := h.Onboarding.Register(c.Request().Context(), tenancy.Registration{
		Name:          req.Name,
		Slug:          req.Slug,
		StorageID:     req.StorageID,
		Contact:       req.Contact,
		AdminUsername: req.AdminUsername,
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
	})
	if err != nil {
		log.Warn("Tenant registration failed", zap.String("slug", req.Slug), zap.Error(err))
		return mid.RespondError(c, err)
	}

	log.Info("Tenant registered", zap.String("tenant_id", tenant.ID), zap.String("slug", tenant.Slug))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Registration received and awaiting approval",
		"tenant":  tenant,
		"admin":   admin,
	})
}

// Me returns the authenticated user
func (h *Handler) Me(c echo.Context) error {
	p, _ := mid.PrincipalFrom(c)
	user, err := h.Users.FindByID(c.Request().Context(), p.UserID)
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// ChangePassword replaces the caller's password
func (h *Handler) ChangePassword(c echo.Context) error {
	var req struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := h.Users.ChangePassword(c.Request().Context(), actor(c), req.Current, req.New); err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password updated"})
}

// CreateSystemUser adds an operator outside every tenant
func (h *Handler) CreateSystemUser(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	user, err := h.Users.Create(c.Request().Context(), account.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     model.RoleSystem,
	})
	if err != nil {
		return mid.RespondError(c, err)
	}
	logger.FromEcho(c).Info("System user created", zap.String("user_id", user.ID), zap.String("by", actor(c)))
	return c.JSON(http.StatusCreated, user)
}
