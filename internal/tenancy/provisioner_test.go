package tenancy

import (
	"context"
	"sync"
	"testing"
	"time"

	"dues-service/internal/model"
	"dues-service/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func countDues(t *testing.T, db *gorm.DB, tenantID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.ContributionType{}).
		Where("tenant_id = ? AND is_system = ?", tenantID, true).
		Count(&n).Error)
	return n
}

func TestEnsureProvisionedConcurrently(t *testing.T) {
	e := newEnv(t)
	tenant := e.createTenant(t, "acme", model.TenantActive)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.provisioner.EnsureProvisioned(context.Background(), tenant))
		}()
	}
	wg.Wait()

	h, err := e.pool.GetHandle(context.Background(), tenant.StorageID)
	require.NoError(t, err)
	defer h.Release()

	assert.True(t, hasSchema(h.DB()))
	assert.EqualValues(t, 1, countDues(t, h.DB(), tenant.ID))

	ok, err := e.provisioner.IsProvisioned(context.Background(), h, tenant)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureProvisionedAcrossProvisioners(t *testing.T) {
	e := newEnv(t)
	tenant := e.createTenant(t, "acme", model.TenantActive)

	provisioners := []*Provisioner{
		NewProvisioner(e.pool, 5*time.Second, zap.NewNop()),
		NewProvisioner(e.pool, 5*time.Second, zap.NewNop()),
		NewProvisioner(e.pool, 5*time.Second, zap.NewNop()),
	}

	var wg sync.WaitGroup
	for _, p := range provisioners {
		wg.Add(1)
		go func(p *Provisioner) {
			defer wg.Done()
			assert.NoError(t, p.EnsureProvisioned(context.Background(), tenant))
		}(p)
	}
	wg.Wait()

	h, err := e.pool.GetHandle(context.Background(), tenant.StorageID)
	require.NoError(t, err)
	defer h.Release()
	assert.EqualValues(t, 1, countDues(t, h.DB(), tenant.ID))
}

func TestSeedToleratesLostInsertRace(t *testing.T) {
	e := newEnv(t)
	tenant := e.createTenant(t, "acme", model.TenantActive)
	require.NoError(t, e.provisioner.EnsureProvisioned(context.Background(), tenant))

	h, err := e.pool.GetHandle(context.Background(), tenant.StorageID)
	require.NoError(t, err)
	defer h.Release()

	// a second insert hits the unique index and is treated as success
	dup := &model.ContributionType{Scoped: model.Scoped{TenantID: tenant.ID}, Name: "dues", IsSystem: true}
	err = h.DB().Create(dup).Error
	assert.True(t, database.IsUniqueViolation(err))
	assert.NoError(t, seedDues(h.DB(), tenant.ID))
	assert.EqualValues(t, 1, countDues(t, h.DB(), tenant.ID))
}

func TestFreshPartitionIsNotProvisioned(t *testing.T) {
	e := newEnv(t)
	tenant := e.createTenant(t, "acme", model.TenantActive)

	h, err := e.pool.GetHandle(context.Background(), tenant.StorageID)
	require.NoError(t, err)
	defer h.Release()

	ok, err := e.provisioner.IsProvisioned(context.Background(), h, tenant)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharedPartitionSeedsEachTenant(t *testing.T) {
	e := newEnv(t)
	pool := NewPool(NewSharedOpener(e.master), PoolConfig{ConnectTimeout: time.Second}, e.clock, zap.NewNop())
	defer pool.CloseAll(context.Background())
	provisioner := NewProvisioner(pool, 5*time.Second, zap.NewNop())

	acme := e.createTenant(t, "acme", model.TenantActive)
	globex := e.createTenant(t, "globex", model.TenantActive)
	require.NoError(t, provisioner.EnsureProvisioned(context.Background(), acme))
	require.NoError(t, provisioner.EnsureProvisioned(context.Background(), globex))

	assert.EqualValues(t, 1, countDues(t, e.master, acme.ID))
	assert.EqualValues(t, 1, countDues(t, e.master, globex.ID))
}

func TestProvisionFailureSurfacesAsStorageError(t *testing.T) {
	e := newEnv(t)
	e.opener.failures = -1
	tenant := e.createTenant(t, "acme", model.TenantActive)

	err := e.provisioner.EnsureProvisioned(context.Background(), tenant)
	assert.ErrorIs(t, err, ErrTenantStorage)

	var te *TenantError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "acme", te.Slug)
}
