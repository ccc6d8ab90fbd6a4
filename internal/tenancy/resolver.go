package tenancy

import (
	"context"
	"errors"

	"dues-service/internal/model"
	"dues-service/prometheus"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// UserBinder persists the default-tenant assignment of a principal
type UserBinder interface {
	// BindTenant binds the user to tenantID unless it is already bound and
	// returns the tenant the user ends up bound to.
	BindTenant(ctx context.Context, userID, tenantID string) (string, error)
}

// DefaultTenant describes the well-known tenant unbound principals join
type DefaultTenant struct {
	Slug      string
	Name      string
	StorageID string
}

// Resolver turns a principal into a tenant context.
type Resolver struct {
	registry    *Registry
	pool        *Pool
	provisioner *Provisioner
	users       UserBinder
	defaults    DefaultTenant
	log         *zap.Logger

	group singleflight.Group
}

// NewResolver wires the resolver to its collaborators
func NewResolver(registry *Registry, pool *Pool, provisioner *Provisioner, users UserBinder, defaults DefaultTenant, log *zap.Logger) *Resolver {
	return &Resolver{
		registry:    registry,
		pool:        pool,
		provisioner: provisioner,
		users:       users,
		defaults:    defaults,
		log:         log,
	}
}

// Resolve produces the tenant context of p. System principals get a context
// without tenant. Principals without a tenant are first bound to the default
// tenant.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (*Context, error) {
	tc, err := r.resolve(ctx, p)
	switch {
	case err != nil:
		prometheus.RecordResolution(KindName(err))
		var te *TenantError
		if errors.As(err, &te) {
			prometheus.RecordTenantError(te.TenantID, KindName(err))
		}
	case tc.IsSystem():
		prometheus.RecordResolution("system")
	case tc.Limited:
		prometheus.RecordResolution("limited")
	default:
		prometheus.RecordResolution("full")
	}
	return tc, err
}

func (r *Resolver) resolve(ctx context.Context, p Principal) (*Context, error) {
	if p.IsSystem() {
		return &Context{Principal: p}, nil
	}

	if p.TenantID == "" {
		assigned, err := r.AssignDefaultTenant(ctx, p)
		if err != nil {
			return nil, err
		}
		p = assigned
	}

	t, err := r.registry.FindByID(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}

	limited, err := Gate(t)
	if err != nil {
		return nil, err
	}

	h, err := r.acquire(ctx, t)
	if err != nil {
		return nil, err
	}

	return &Context{Principal: p, Tenant: t, Handle: h, Limited: limited}, nil
}

// Gate applies the lifecycle policy to t. It returns limited=true for
// pending tenants and an error for every status that blocks access.
func Gate(t *model.Tenant) (limited bool, err error) {
	if t.IsDeleted() {
		return false, tenantError(ErrTenantGone, t, nil)
	}
	switch t.Status {
	case model.TenantActive:
		return false, nil
	case model.TenantPending:
		return true, nil
	case model.TenantRejected:
		return false, tenantError(ErrTenantRejected, t, nil)
	default:
		return false, tenantError(ErrTenantInactive, t, nil)
	}
}

// acquire gets the partition handle of t, provisioning the partition and
// retrying once when it is missing or empty.
func (r *Resolver) acquire(ctx context.Context, t *model.Tenant) (*Handle, error) {
	h, err := r.pool.GetHandle(ctx, t.StorageID)
	if err == nil {
		ok, perr := r.provisioner.IsProvisioned(ctx, h, t)
		if perr == nil && ok {
			return h, nil
		}
		if perr != nil {
			r.log.Warn("Failed to inspect tenant partition", zap.String("storage_id", t.StorageID), zap.Error(perr))
			h.MarkBroken()
		}
		h.Release()
	} else {
		r.log.Warn("Tenant partition unavailable, provisioning", zap.String("storage_id", t.StorageID), zap.Error(err))
	}

	r.provisioner.Invalidate(t.StorageID)
	if err := r.provisioner.EnsureProvisioned(ctx, t); err != nil {
		return nil, asStorageError(t, err)
	}

	h, err = r.pool.GetHandle(ctx, t.StorageID)
	if err != nil {
		return nil, asStorageError(t, err)
	}
	return h, nil
}

// AssignDefaultTenant binds an unbound, non-system principal to the default
// tenant, creating and provisioning that tenant on first use. The binding is
// persisted only after provisioning succeeded.
func (r *Resolver) AssignDefaultTenant(ctx context.Context, p Principal) (Principal, error) {
	if p.IsSystem() {
		return p, ErrSystemPrincipal
	}
	if p.TenantID != "" {
		return p, nil
	}

	t, err := r.defaultTenant(ctx)
	if err != nil {
		return p, err
	}

	bound, err := r.users.BindTenant(ctx, p.UserID, t.ID)
	if err != nil {
		return p, err
	}

	r.log.Info("Assigned principal to default tenant",
		zap.String("user_id", p.UserID),
		zap.String("tenant_id", bound))
	p.TenantID = bound
	return p, nil
}

// defaultTenant finds or creates the default tenant. Callers in this process
// share one lookup; a creation race with another process is settled by the
// unique slug and storage id, re-reading the winning row.
func (r *Resolver) defaultTenant(ctx context.Context) (*model.Tenant, error) {
	ch := r.group.DoChan("default:"+r.defaults.Slug, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		t, err := r.registry.FindBySlug(ctx, r.defaults.Slug)
		if errors.Is(err, ErrTenantNotFound) {
			t = &model.Tenant{
				Name:      r.defaults.Name,
				Slug:      r.defaults.Slug,
				StorageID: r.defaults.StorageID,
				Status:    model.TenantActive,
			}
			err = r.registry.Create(ctx, t)
			if errors.Is(err, ErrConflict) {
				t, err = r.registry.FindBySlug(ctx, r.defaults.Slug)
			}
		}
		if err != nil {
			return nil, err
		}

		if err := r.provisioner.EnsureProvisioned(ctx, t); err != nil {
			return nil, asStorageError(t, err)
		}
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, storageError(nil, r.defaults.StorageID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Tenant), nil
	}
}

// asStorageError attaches tenant detail to storage failures
func asStorageError(t *model.Tenant, err error) error {
	var te *TenantError
	if errors.As(err, &te) && te.Kind == ErrTenantStorage {
		// the error may be shared by several waiters of one flight
		cp := *te
		cp.TenantID = t.ID
		cp.TenantName = t.Name
		cp.Slug = t.Slug
		cp.Status = t.Status
		return &cp
	}
	return storageError(t, t.StorageID, err)
}
