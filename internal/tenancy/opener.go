package tenancy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dues-service/internal/model"
	"dues-service/pkg/config"
	"dues-service/pkg/database"

	"gorm.io/gorm"
)

// Opener connects to the storage partition named by a storage id.
type Opener interface {
	Open(ctx context.Context, storageID string) (*gorm.DB, error)
	Close(storageID string, db *gorm.DB) error
}

// PartitionCreator is implemented by openers whose partitions must exist
// before they can be opened. owner is the id of the tenant the partition is
// created for.
type PartitionCreator interface {
	CreatePartition(ctx context.Context, storageID, owner string) error
}

// PartitionDropper removes what a failed provisioning left behind for owner.
type PartitionDropper interface {
	DropPartition(ctx context.Context, storageID, owner string) error
}

// partitionTag marks a PostgreSQL database as created for a tenant
const partitionTag = "dues-tenant:"

// DatabaseOpener opens one physical database per tenant.
type DatabaseOpener struct {
	cfg    *config.DBConfig
	pool   database.PoolConfig
	master *gorm.DB
}

// NewDatabaseOpener builds an opener for database-per-tenant storage. master
// is used to issue CREATE DATABASE on PostgreSQL.
func NewDatabaseOpener(cfg *config.DBConfig, pool database.PoolConfig, master *gorm.DB) *DatabaseOpener {
	return &DatabaseOpener{cfg: cfg, pool: pool, master: master}
}

// guard refuses the master and system databases as tenant partitions
func (o *DatabaseOpener) guard(storageID string) error {
	if storageID == o.cfg.DBName || isSystemDatabase(storageID) {
		return &TenantError{Kind: ErrConflict, Slug: storageID, Reason: "storage id is reserved"}
	}
	return nil
}

func (o *DatabaseOpener) Open(ctx context.Context, storageID string) (*gorm.DB, error) {
	if err := o.guard(storageID); err != nil {
		return nil, err
	}
	db, err := database.Open(o.cfg, storageID, o.pool)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to reach partition %s: %w", storageID, err)
	}
	return db, nil
}

func (o *DatabaseOpener) Close(storageID string, db *gorm.DB) error {
	return database.Close(db)
}

// CreatePartition creates the tenant database and tags it with owner. A
// database that already exists is only accepted when it carries the same tag.
func (o *DatabaseOpener) CreatePartition(ctx context.Context, storageID, owner string) error {
	if err := o.guard(storageID); err != nil {
		return err
	}
	if o.cfg.Dialect == config.DialectSQLite {
		// the file is created on first open
		return nil
	}
	if !storageIDPattern.MatchString(storageID) {
		return fmt.Errorf("%w: invalid storage id %q", ErrValidation, storageID)
	}

	db := o.master.WithContext(ctx)
	err := db.Exec(`CREATE DATABASE "` + storageID + `"`).Error
	if err == nil {
		err = db.Exec(`COMMENT ON DATABASE "` + storageID + `" IS '` + partitionTag + owner + `'`).Error
		if err != nil {
			return fmt.Errorf("failed to tag partition %s: %w", storageID, err)
		}
		return nil
	}
	if !database.HasCode(err, database.CodeDuplicateDatabase) {
		return fmt.Errorf("failed to create partition %s: %w", storageID, err)
	}

	tag, err := o.partitionOwner(ctx, storageID)
	if err != nil {
		return err
	}
	if tag != partitionTag+owner {
		return &TenantError{Kind: ErrConflict, TenantID: owner, Slug: storageID, Reason: "database already exists and belongs to someone else"}
	}
	return nil
}

func (o *DatabaseOpener) partitionOwner(ctx context.Context, storageID string) (string, error) {
	var tag string
	row := o.master.WithContext(ctx).
		Raw(`SELECT COALESCE(shobj_description(oid, 'pg_database'), '') FROM pg_database WHERE datname = ?`, storageID).
		Row()
	if err := row.Scan(&tag); err != nil {
		return "", fmt.Errorf("failed to read owner of partition %s: %w", storageID, err)
	}
	return tag, nil
}

// DropPartition deletes a partition created for owner. Databases without the
// owner's tag are left alone.
func (o *DatabaseOpener) DropPartition(ctx context.Context, storageID, owner string) error {
	if err := o.guard(storageID); err != nil {
		return err
	}
	if o.cfg.Dialect == config.DialectSQLite {
		err := os.Remove(database.SQLitePath(o.cfg.SQLiteDir, storageID))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to drop partition %s: %w", storageID, err)
		}
		return nil
	}

	tag, err := o.partitionOwner(ctx, storageID)
	if err != nil {
		return err
	}
	if tag != partitionTag+owner {
		return nil
	}
	if err := o.master.WithContext(ctx).Exec(`DROP DATABASE IF EXISTS "` + storageID + `"`).Error; err != nil {
		return fmt.Errorf("failed to drop partition %s: %w", storageID, err)
	}
	return nil
}

// SharedOpener hands out the one shared database for every storage id.
type SharedOpener struct {
	db *gorm.DB
}

func NewSharedOpener(db *gorm.DB) *SharedOpener {
	return &SharedOpener{db: db}
}

func (o *SharedOpener) Open(ctx context.Context, storageID string) (*gorm.DB, error) {
	sqlDB, err := o.db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach shared partition: %w", err)
	}
	return o.db, nil
}

// Close is a no-op; the shared database outlives tenant handles.
func (o *SharedOpener) Close(storageID string, db *gorm.DB) error {
	return nil
}

// DropPartition deletes the rows owner has in the shared database
func (o *SharedOpener) DropPartition(ctx context.Context, storageID, owner string) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entities := model.TenantEntities()
		for i := len(entities) - 1; i >= 0; i-- {
			entity := entities[i]
			if !tx.Migrator().HasTable(entity) {
				continue
			}
			if err := tx.Where("tenant_id = ?", owner).Delete(entity).Error; err != nil {
				return fmt.Errorf("failed to drop rows of tenant %s: %w", owner, err)
			}
		}
		return nil
	})
}

// NewOpener selects the opener for the configured tenancy strategy
func NewOpener(cfg *config.Config, master *gorm.DB) (Opener, error) {
	switch cfg.Tenancy.Strategy {
	case config.StrategyDatabase:
		return NewDatabaseOpener(&cfg.DB, database.PoolConfig{
			MaxIdleConns:    cfg.Tenancy.HandleMaxIdle,
			MaxOpenConns:    cfg.Tenancy.HandleMaxOpen,
			ConnMaxLifetime: cfg.Tenancy.HandleMaxLifetime,
		}, master), nil
	case config.StrategyShared:
		return NewSharedOpener(master), nil
	default:
		return nil, fmt.Errorf("unsupported tenancy strategy %q", cfg.Tenancy.Strategy)
	}
}
