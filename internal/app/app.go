package app

import (
	"context"
	"fmt"

	"dues-service/internal/account"
	"dues-service/internal/model"
	"dues-service/internal/store"
	"dues-service/internal/tenancy"
	"dues-service/pkg/config"
	"dues-service/pkg/database"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds the wired core shared by the server and the operator CLI
type App struct {
	Config      *config.Config
	Master      *gorm.DB
	Registry    *tenancy.Registry
	Users       *account.Store
	Pool        *tenancy.Pool
	Provisioner *tenancy.Provisioner
	Resolver    *tenancy.Resolver
	Onboarding  *tenancy.Onboarding
	Accessor    store.Accessor
	Clock       clock.Clock
}

// Build connects the system database and wires the tenancy core for the
// configured strategy.
func Build(cfg *config.Config, log *zap.Logger) (*App, error) {
	master, err := database.InitDB(&cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := database.MigrateModels(master, model.SystemEntities()...); err != nil {
		database.Close(master)
		return nil, err
	}

	opener, err := tenancy.NewOpener(cfg, master)
	if err != nil {
		database.Close(master)
		return nil, err
	}

	clk := clock.New()
	pool := tenancy.NewPool(opener, tenancy.PoolConfig{
		ConnectTimeout: cfg.Tenancy.ConnectTimeout,
		IdleTimeout:    cfg.Tenancy.IdleTimeout,
		SweepInterval:  cfg.Tenancy.SweepInterval,
	}, clk, log.Named("pool"))

	registry := tenancy.NewRegistry(master, clk, log.Named("registry"))
	if cfg.Tenancy.Strategy == config.StrategyDatabase {
		registry.Reserve(cfg.DB.DBName)
	}
	users := account.NewStore(master, clk)
	provisioner := tenancy.NewProvisioner(pool, cfg.Tenancy.ProvisionTimeout, log.Named("provisioner"))
	resolver := tenancy.NewResolver(registry, pool, provisioner, users, tenancy.DefaultTenant{
		Slug:      cfg.Tenancy.DefaultSlug,
		Name:      cfg.Tenancy.DefaultName,
		StorageID: cfg.Tenancy.DefaultStorageID,
	}, log.Named("resolver"))

	accessor, err := store.NewAccessor(cfg.Tenancy.Strategy, master, registry, clk)
	if err != nil {
		database.Close(master)
		return nil, err
	}

	return &App{
		Config:      cfg,
		Master:      master,
		Registry:    registry,
		Users:       users,
		Pool:        pool,
		Provisioner: provisioner,
		Resolver:    resolver,
		Onboarding:  tenancy.NewOnboarding(registry, provisioner, users, log.Named("onboarding")),
		Accessor:    accessor,
		Clock:       clk,
	}, nil
}

// Close drains every partition handle and then closes the system database
func (a *App) Close(ctx context.Context) error {
	poolErr := a.Pool.CloseAll(ctx)
	if err := database.Close(a.Master); err != nil {
		return fmt.Errorf("failed to close system database: %w", err)
	}
	return poolErr
}
