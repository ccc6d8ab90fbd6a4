package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dues-service/internal/account"
	"dues-service/internal/model"
	"dues-service/pkg/config"
	"dues-service/pkg/database"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func sqliteConfig(dir string) *config.DBConfig {
	return &config.DBConfig{
		Dialect:   config.DialectSQLite,
		SQLiteDir: dir,
		DBName:    "master",
		LogLevel:  logger.Silent,
	}
}

func newMaster(t *testing.T, dir string) *gorm.DB {
	t.Helper()
	db, err := database.InitDB(sqliteConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	require.NoError(t, database.MigrateModels(db, model.SystemEntities()...))
	return db
}

// countingOpener wraps an opener and records how it is used
type countingOpener struct {
	inner Opener

	mu       sync.Mutex
	opens    int
	closes   int
	failures int
	delay    time.Duration
	block    bool
}

func (o *countingOpener) Open(ctx context.Context, storageID string) (*gorm.DB, error) {
	o.mu.Lock()
	o.opens++
	fail := o.failures != 0
	if o.failures > 0 {
		o.failures--
	}
	delay, block := o.delay, o.block
	o.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	return o.inner.Open(ctx, storageID)
}

func (o *countingOpener) Close(storageID string, db *gorm.DB) error {
	o.mu.Lock()
	o.closes++
	o.mu.Unlock()
	return o.inner.Close(storageID, db)
}

func (o *countingOpener) counts() (opens, closes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.closes
}

type env struct {
	dir         string
	master      *gorm.DB
	clock       *clock.Mock
	registry    *Registry
	users       *account.Store
	opener      *countingOpener
	pool        *Pool
	provisioner *Provisioner
	resolver    *Resolver
	onboarding  *Onboarding
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	e := &env{dir: dir, clock: clk}
	e.master = newMaster(t, dir)
	e.registry = NewRegistry(e.master, clk, log)
	e.users = account.NewStore(e.master, clk)
	e.opener = &countingOpener{inner: NewDatabaseOpener(sqliteConfig(dir), database.PoolConfig{}, e.master)}
	e.pool = NewPool(e.opener, PoolConfig{
		ConnectTimeout: 2 * time.Second,
		IdleTimeout:    time.Minute,
		SweepInterval:  time.Minute,
	}, clk, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e.pool.CloseAll(ctx)
	})
	e.provisioner = NewProvisioner(e.pool, 5*time.Second, log)
	e.resolver = NewResolver(e.registry, e.pool, e.provisioner, e.users, DefaultTenant{
		Slug:      "demo",
		Name:      "Demo Organization",
		StorageID: "demo-tenant",
	}, log)
	e.onboarding = NewOnboarding(e.registry, e.provisioner, e.users, log)
	return e
}

func (e *env) createTenant(t *testing.T, slug string, status model.TenantStatus) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{Name: slug + " org", Slug: slug, StorageID: slug + "-db", Status: model.TenantPending}
	require.NoError(t, e.registry.Create(context.Background(), tenant))
	if status != model.TenantPending {
		require.NoError(t, e.master.Model(&model.Tenant{}).Where("id = ?", tenant.ID).Update("status", status).Error)
		tenant.Status = status
	}
	return tenant
}

func (e *env) createUser(t *testing.T, username, tenantID string) *model.User {
	t.Helper()
	user, err := e.users.Create(context.Background(), account.NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret1",
		Role:     model.RoleAdmin,
		TenantID: tenantID,
	})
	require.NoError(t, err)
	return user
}
