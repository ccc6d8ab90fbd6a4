package store

import (
	"context"
	"testing"
	"time"

	"dues-service/internal/account"
	"dues-service/internal/model"
	"dues-service/internal/tenancy"
	"dues-service/pkg/config"
	"dues-service/pkg/database"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

var strategies = []string{config.StrategyDatabase, config.StrategyShared}

type fixture struct {
	registry *tenancy.Registry
	resolver *tenancy.Resolver
	accessor Accessor
	clock    *clock.Mock
}

func newFixture(t *testing.T, strategy string) *fixture {
	t.Helper()

	cfg := &config.Config{
		DB: config.DBConfig{
			Dialect:   config.DialectSQLite,
			SQLiteDir: t.TempDir(),
			DBName:    "master",
			LogLevel:  logger.Silent,
		},
		Tenancy: config.TenancyConfig{Strategy: strategy},
	}
	master, err := database.InitDB(&cfg.DB)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(master) })
	require.NoError(t, database.MigrateModels(master, model.SystemEntities()...))

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	opener, err := tenancy.NewOpener(cfg, master)
	require.NoError(t, err)
	pool := tenancy.NewPool(opener, tenancy.PoolConfig{
		ConnectTimeout: 5 * time.Second,
		IdleTimeout:    time.Hour,
		SweepInterval:  time.Minute,
	}, clk, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pool.CloseAll(ctx)
	})

	registry := tenancy.NewRegistry(master, clk, log)
	provisioner := tenancy.NewProvisioner(pool, 10*time.Second, log)
	resolver := tenancy.NewResolver(registry, pool, provisioner, account.NewStore(master, clk),
		tenancy.DefaultTenant{Slug: "demo", Name: "Demo Organization", StorageID: "demo-tenant"}, log)

	accessor, err := NewAccessor(strategy, master, registry, clk)
	require.NoError(t, err)

	return &fixture{registry: registry, resolver: resolver, accessor: accessor, clock: clk}
}

func (f *fixture) tenant(t *testing.T, name, slug string, status model.TenantStatus) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{Name: name, Slug: slug, StorageID: slug + "-db", Status: status}
	require.NoError(t, f.registry.Create(context.Background(), tenant))
	return tenant
}

func (f *fixture) models(t *testing.T, tenant *model.Tenant) *Models {
	t.Helper()
	tc, err := f.resolver.Resolve(context.Background(), tenancy.Principal{
		UserID:   "admin-" + tenant.Slug,
		Username: "admin",
		Role:     model.RoleAdmin,
		TenantID: tenant.ID,
	})
	require.NoError(t, err)
	t.Cleanup(tc.Release)

	m, err := f.accessor.Models(tc)
	require.NoError(t, err)
	return m
}

func (f *fixture) member(t *testing.T, m *Models, name string, dues float64) *model.Member {
	t.Helper()
	member := &model.Member{
		Name:         name,
		JoinDate:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		DuesPerMonth: dues,
	}
	require.NoError(t, m.Member.Create(context.Background(), member))
	return member
}

func forEachStrategy(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, s := range strategies {
		t.Run(s, func(t *testing.T) {
			fn(t, newFixture(t, s))
		})
	}
}
