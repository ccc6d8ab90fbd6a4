package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dues-service/internal/account"
	"dues-service/internal/model"
	"dues-service/prometheus"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registration is a self-service request for a new tenant and its admin
type Registration struct {
	Name          string
	Slug          string
	StorageID     string
	Contact       model.Contact
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// Onboarding creates tenants together with their partition and admin.
type Onboarding struct {
	registry    *Registry
	provisioner *Provisioner
	users       *account.Store
	log         *zap.Logger
}

// NewOnboarding wires tenant registration
func NewOnboarding(registry *Registry, provisioner *Provisioner, users *account.Store, log *zap.Logger) *Onboarding {
	return &Onboarding{registry: registry, provisioner: provisioner, users: users, log: log}
}

// Register creates a pending tenant, provisions its partition and creates its
// admin. A failure after the tenant row exists deletes the row again so no
// tenant ever points at an unprovisioned partition.
func (o *Onboarding) Register(ctx context.Context, req Registration) (tenant *model.Tenant, admin *model.User, err error) {
	defer func() { prometheus.RecordRegistration(err) }()

	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.StorageID = strings.ToLower(strings.TrimSpace(req.StorageID))
	if req.StorageID == "" {
		req.StorageID = req.Slug + "-db"
	}
	if strings.TrimSpace(req.Name) == "" || req.AdminUsername == "" || req.AdminEmail == "" || req.AdminPassword == "" {
		return nil, nil, fmt.Errorf("%w: name, admin username, email and password are required", ErrValidation)
	}
	if len(req.AdminPassword) < 6 {
		return nil, nil, fmt.Errorf("%w: admin password must be at least 6 characters", ErrValidation)
	}
	if err := ValidateIdentifiers(req.Slug, req.StorageID); err != nil {
		return nil, nil, err
	}

	taken, err := o.users.Exists(ctx, req.AdminUsername, req.AdminEmail)
	if err != nil {
		return nil, nil, err
	}
	if taken {
		return nil, nil, &TenantError{Kind: ErrConflict, Slug: req.Slug, Reason: "admin username or email already registered"}
	}

	adminID := uuid.NewString()
	tenant = &model.Tenant{
		Name:      req.Name,
		Slug:      req.Slug,
		StorageID: req.StorageID,
		Status:    model.TenantPending,
		Contact:   req.Contact,
		CreatedBy: adminID,
	}
	if err := o.registry.Create(ctx, tenant); err != nil {
		return nil, nil, err
	}

	if err := o.provisioner.EnsureProvisioned(ctx, tenant); err != nil {
		o.rollback(tenant, err)
		return nil, nil, err
	}

	admin, err = o.users.Create(ctx, account.NewUser{
		ID:       adminID,
		Username: req.AdminUsername,
		Email:    req.AdminEmail,
		Password: req.AdminPassword,
		Role:     model.RoleAdmin,
		TenantID: tenant.ID,
	})
	if err != nil {
		o.rollback(tenant, err)
		if errors.Is(err, account.ErrUserExists) {
			return nil, nil, &TenantError{Kind: ErrConflict, Slug: req.Slug, Reason: "admin username or email already registered", Err: err}
		}
		if errors.Is(err, account.ErrInvalidUser) {
			return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, nil, err
	}

	o.log.Info("Tenant registered",
		zap.String("tenant_id", tenant.ID),
		zap.String("slug", tenant.Slug),
		zap.String("admin_id", admin.ID))
	return tenant, admin, nil
}

// rollback removes a tenant whose onboarding failed, together with its admin
// and partition. It runs detached from the request so that a cancelled
// request still cleans up.
func (o *Onboarding) rollback(t *model.Tenant, cause error) {
	ctx := context.Background()
	if err := o.users.DeleteByTenant(ctx, t.ID); err != nil {
		o.log.Error("Failed to remove admin of failed registration", zap.String("tenant_id", t.ID), zap.Error(err))
	}
	if err := o.provisioner.Deprovision(ctx, t); err != nil {
		o.log.Error("Failed to drop partition of failed registration",
			zap.String("tenant_id", t.ID),
			zap.String("storage_id", t.StorageID),
			zap.Error(err))
	}
	if err := o.registry.purge(ctx, t.ID); err != nil {
		o.log.Error("Failed to roll back tenant", zap.String("tenant_id", t.ID), zap.Error(err))
		return
	}
	o.log.Warn("Rolled back tenant registration",
		zap.String("tenant_id", t.ID),
		zap.String("slug", t.Slug),
		zap.Error(cause))
}
