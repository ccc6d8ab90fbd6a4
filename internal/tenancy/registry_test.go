package tenancy

import (
	"context"
	"testing"

	"dues-service/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateValidatesIdentifiers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		slug      string
		storageID string
	}{
		{"uppercase slug", "Acme", "acme-db"},
		{"slug with underscore", "acme_org", "acme-db"},
		{"empty storage id", "acme", ""},
		{"storage id with dot", "acme", "acme.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.registry.Create(ctx, &model.Tenant{Name: "Acme", Slug: tt.slug, StorageID: tt.storageID})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateDefaultsAndConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	acme := &model.Tenant{Name: "Acme", Slug: "acme", StorageID: "acme-db"}
	require.NoError(t, e.registry.Create(ctx, acme))
	assert.Equal(t, model.TenantPending, acme.Status)
	assert.Equal(t, "#3B82F6", acme.Config.Branding.PrimaryColor)
	assert.Equal(t, "Acme", acme.Config.Branding.Name)

	err := e.registry.Create(ctx, &model.Tenant{Name: "Other", Slug: "acme", StorageID: "other-db"})
	assert.ErrorIs(t, err, ErrConflict)

	err = e.registry.Create(ctx, &model.Tenant{Name: "Other", Slug: "other", StorageID: "acme-db"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSoftDeletedIdentifiersStayReserved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	acme := e.createTenant(t, "acme", model.TenantActive)
	_, err := e.registry.SoftDelete(ctx, acme.ID)
	require.NoError(t, err)

	err = e.registry.Create(ctx, &model.Tenant{Name: "Acme again", Slug: "acme", StorageID: "fresh-db"})
	assert.ErrorIs(t, err, ErrConflict)

	err = e.registry.Create(ctx, &model.Tenant{Name: "Acme again", Slug: "fresh", StorageID: "acme-db"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStatusTransitions(t *testing.T) {
	type op func(r *Registry, id string) (*model.Tenant, error)
	approve := func(r *Registry, id string) (*model.Tenant, error) { return r.Approve(context.Background(), id, "sys") }
	reject := func(r *Registry, id string) (*model.Tenant, error) { return r.Reject(context.Background(), id, "spam") }
	deactivate := func(r *Registry, id string) (*model.Tenant, error) { return r.Deactivate(context.Background(), id) }
	activate := func(r *Registry, id string) (*model.Tenant, error) { return r.Activate(context.Background(), id) }
	softDelete := func(r *Registry, id string) (*model.Tenant, error) { return r.SoftDelete(context.Background(), id) }
	restore := func(r *Registry, id string) (*model.Tenant, error) { return r.Restore(context.Background(), id) }

	tests := []struct {
		name string
		from model.TenantStatus
		op   op
		want model.TenantStatus
		ok   bool
	}{
		{"approve pending", model.TenantPending, approve, model.TenantActive, true},
		{"reject pending", model.TenantPending, reject, model.TenantRejected, true},
		{"deactivate active", model.TenantActive, deactivate, model.TenantInactive, true},
		{"activate inactive", model.TenantInactive, activate, model.TenantActive, true},
		{"archive active", model.TenantActive, softDelete, model.TenantArchived, true},
		{"archive inactive", model.TenantInactive, softDelete, model.TenantArchived, true},
		{"restore archived", model.TenantArchived, restore, model.TenantActive, true},
		{"approve active", model.TenantActive, approve, "", false},
		{"reject active", model.TenantActive, reject, "", false},
		{"deactivate pending", model.TenantPending, deactivate, "", false},
		{"activate archived", model.TenantArchived, activate, "", false},
		{"archive pending", model.TenantPending, softDelete, "", false},
		{"archive rejected", model.TenantRejected, softDelete, "", false},
		{"restore active", model.TenantActive, restore, "", false},
		{"approve rejected", model.TenantRejected, approve, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tenant := e.createTenant(t, "acme", tt.from)

			got, err := tt.op(e.registry, tenant.ID)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidStateTransition)
				stored, err := e.registry.FindByID(context.Background(), tenant.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.from, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant := e.createTenant(t, "acme", model.TenantActive)

	deleted, err := e.registry.SoftDelete(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted())
	assert.Equal(t, model.TenantArchived, deleted.Status)

	live, total, err := e.registry.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, live)
	assert.Zero(t, total)

	all, _, err := e.registry.List(ctx, ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	restored, err := e.registry.Restore(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted())
	assert.Equal(t, model.TenantActive, restored.Status)
}

func TestApproveRecordsApprover(t *testing.T) {
	e := newEnv(t)
	tenant := e.createTenant(t, "acme", model.TenantPending)

	got, err := e.registry.Approve(context.Background(), tenant.ID, "system-user")
	require.NoError(t, err)
	assert.Equal(t, "system-user", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(e.clock.Now()))
}

func TestRejectRequiresReason(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant := e.createTenant(t, "acme", model.TenantPending)

	_, err := e.registry.Reject(ctx, tenant.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := e.registry.Reject(ctx, tenant.ID, "  duplicate registration ")
	require.NoError(t, err)
	assert.Equal(t, model.TenantRejected, got.Status)
	assert.Equal(t, "duplicate registration", got.RejectionReason)
}

func TestUpdateChangesMutableFieldsOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant := e.createTenant(t, "acme", model.TenantActive)

	name := "Acme Holdings"
	cfg := model.DefaultTenantConfig(name)
	cfg.Features.Expenditure = false
	got, err := e.registry.Update(ctx, tenant.ID, TenantUpdate{
		Name:    &name,
		Config:  &cfg,
		Contact: &model.Contact{Email: "info@acme.test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", got.Name)
	assert.Equal(t, "acme", got.Slug)
	assert.Equal(t, "acme-db", got.StorageID)
	assert.False(t, got.Config.Features.Expenditure)
	assert.Equal(t, "info@acme.test", got.Contact.Email)

	_, err = e.registry.SoftDelete(ctx, tenant.ID)
	require.NoError(t, err)
	_, err = e.registry.Update(ctx, tenant.ID, TenantUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrTenantGone)
}

func TestFindMissingTenant(t *testing.T) {
	e := newEnv(t)

	_, err := e.registry.FindBySlug(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	var te *TenantError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "ghost", te.Slug)
}

func TestListFiltersByStatus(t *testing.T) {
	e := newEnv(t)
	e.createTenant(t, "one", model.TenantPending)
	e.createTenant(t, "two", model.TenantPending)
	e.createTenant(t, "three", model.TenantRejected)

	pending, total, err := e.registry.List(context.Background(), ListFilter{Statuses: []model.TenantStatus{model.TenantPending}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.EqualValues(t, 2, total)
}

func TestNextMemberCode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant := &model.Tenant{Name: "Acme Workers Union", Slug: "acme", StorageID: "acme-db"}
	require.NoError(t, e.registry.Create(ctx, tenant))

	first, err := e.registry.NextMemberCode(ctx, tenant.ID)
	require.NoError(t, err)
	second, err := e.registry.NextMemberCode(ctx, tenant.ID)
	require.NoError(t, err)

	assert.Equal(t, "AWU-00001", first)
	assert.Equal(t, "AWU-00002", second)

	_, err = e.registry.NextMemberCode(ctx, "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestInitials(t *testing.T) {
	assert.Equal(t, "DO", Initials("Demo Organization"))
	assert.Equal(t, "ORG", Initials(""))
	assert.Equal(t, "ORG", Initials("  ***  "))
	assert.Equal(t, "AB", Initials("alpha (beta)"))
}
