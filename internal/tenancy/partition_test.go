package tenancy

import (
	"context"
	"os"
	"testing"
	"time"

	"dues-service/internal/model"
	"dues-service/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// onboardingOn wires onboarding to opener instead of the counting wrapper
func (e *env) onboardingOn(t *testing.T, opener Opener) *Onboarding {
	t.Helper()
	log := zap.NewNop()
	pool := NewPool(opener, PoolConfig{
		ConnectTimeout: 2 * time.Second,
		IdleTimeout:    time.Minute,
		SweepInterval:  time.Minute,
	}, e.clock, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pool.CloseAll(ctx)
	})
	return NewOnboarding(e.registry, NewProvisioner(pool, 5*time.Second, log), e.users, log)
}

func TestReservedStorageIDs(t *testing.T) {
	e := newEnv(t)
	e.registry.Reserve("master")
	ctx := context.Background()

	for _, id := range []string{"master", "postgres", "template0", "template1"} {
		t.Run(id, func(t *testing.T) {
			err := e.registry.Create(ctx, &model.Tenant{Name: "Acme", Slug: "acme", StorageID: id})
			assert.ErrorIs(t, err, ErrConflict)
		})
	}

	assert.ErrorIs(t, ValidateIdentifiers("acme", "template1"), ErrConflict)
	assert.NoError(t, ValidateIdentifiers("acme", "postgres-db"))
}

func TestDatabaseOpenerRefusesMaster(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	opener := NewDatabaseOpener(sqliteConfig(e.dir), database.PoolConfig{}, e.master)

	assert.ErrorIs(t, opener.CreatePartition(ctx, "master", "t1"), ErrConflict)
	assert.ErrorIs(t, opener.CreatePartition(ctx, "postgres", "t1"), ErrConflict)
	_, err := opener.Open(ctx, "master")
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, opener.DropPartition(ctx, "master", "t1"), ErrConflict)

	_, err = os.Stat(database.SQLitePath(e.dir, "master"))
	assert.NoError(t, err)
}

func TestRegisterRefusesMasterAsPartition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, _, err := e.onboarding.Register(ctx, Registration{
		Name:          "Acme",
		Slug:          "acme",
		StorageID:     "master",
		AdminUsername: "acme-admin",
		AdminEmail:    "admin@acme.test",
		AdminPassword: "secret1",
	})
	assert.ErrorIs(t, err, ErrConflict)

	assert.False(t, e.master.Migrator().HasTable(&model.Member{}))
	assert.False(t, e.master.Migrator().HasTable(&model.ContributionType{}))

	_, err = e.registry.FindBySlug(ctx, "acme")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	exists, err := e.users.Exists(ctx, "acme-admin", "admin@acme.test")
	require.NoError(t, err)
	assert.False(t, exists)
}

// a blank admin username passes the request check but fails user creation,
// after the partition has been provisioned
var failingAdmin = Registration{
	Name:          "Acme",
	Slug:          "acme",
	AdminUsername: "   ",
	AdminEmail:    "admin@acme.test",
	AdminPassword: "secret1",
}

func TestFailedRegistrationDropsPartitionFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	onboarding := e.onboardingOn(t, NewDatabaseOpener(sqliteConfig(e.dir), database.PoolConfig{}, e.master))

	_, _, err := onboarding.Register(ctx, failingAdmin)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = os.Stat(database.SQLitePath(e.dir, "acme-db"))
	assert.True(t, os.IsNotExist(err), "partition file should be removed, got %v", err)
	_, err = os.Stat(database.SQLitePath(e.dir, "master"))
	assert.NoError(t, err)

	_, err = e.registry.FindBySlug(ctx, "acme")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestFailedRegistrationRemovesSharedRows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	other := e.createTenant(t, "globex", model.TenantActive)
	onboarding := e.onboardingOn(t, NewSharedOpener(e.master))
	require.NoError(t, onboarding.provisioner.EnsureProvisioned(ctx, other))

	_, _, err := onboarding.Register(ctx, failingAdmin)
	assert.ErrorIs(t, err, ErrValidation)

	var seeded int64
	require.NoError(t, e.master.Model(&model.ContributionType{}).Where("is_system = ?", true).Count(&seeded).Error)
	assert.EqualValues(t, 1, seeded)
	assert.EqualValues(t, 1, countDues(t, e.master, other.ID))

	_, err = e.registry.FindBySlug(ctx, "acme")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestReprovisionRestoresMissingIndex(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant := e.createTenant(t, "acme", model.TenantActive)
	require.NoError(t, e.provisioner.EnsureProvisioned(ctx, tenant))

	h, err := e.pool.GetHandle(ctx, tenant.StorageID)
	require.NoError(t, err)
	defer h.Release()
	db := h.DB()

	indexCount := func() int64 {
		var n int64
		require.NoError(t, db.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`,
			"idx_contribution_types_tenant_name").Scan(&n).Error)
		return n
	}
	require.NoError(t, db.Exec(`DROP INDEX idx_contribution_types_tenant_name`).Error)
	require.EqualValues(t, 0, indexCount())

	e.provisioner.Invalidate(tenant.StorageID)
	require.NoError(t, e.provisioner.EnsureProvisioned(ctx, tenant))
	assert.EqualValues(t, 1, indexCount())
}
