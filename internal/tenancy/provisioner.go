package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dues-service/internal/model"
	"dues-service/pkg/database"
	"dues-service/prometheus"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// tenantIndexes are created after AutoMigrate. gorm tags cannot express
// composite indexes across the embedded tenant column or on expressions.
var tenantIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_members_tenant_code ON members (tenant_id, member_code)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_contribution_types_tenant_name ON contribution_types (tenant_id, LOWER(name))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_tenant_number ON receipts (tenant_id, receipt_number)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_histories_member_paid ON payment_histories (tenant_id, member_id, paid_at)`,
}

// Provisioner makes sure a tenant partition has its tables, indexes and seed
// rows. It is idempotent and safe to call concurrently.
type Provisioner struct {
	pool    *Pool
	timeout time.Duration
	log     *zap.Logger

	group singleflight.Group

	mu   sync.Mutex
	done map[string]bool
}

// NewProvisioner creates a provisioner that reaches partitions through pool
func NewProvisioner(pool *Pool, timeout time.Duration, log *zap.Logger) *Provisioner {
	return &Provisioner{
		pool:    pool,
		timeout: timeout,
		log:     log,
		done:    make(map[string]bool),
	}
}

func (p *Provisioner) provisioned(storageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[storageID]
}

func (p *Provisioner) markProvisioned(storageID string) {
	p.mu.Lock()
	p.done[storageID] = true
	p.mu.Unlock()
}

// Invalidate forgets that storageID was provisioned so the next call checks again
func (p *Provisioner) Invalidate(storageID string) {
	p.mu.Lock()
	delete(p.done, storageID)
	p.mu.Unlock()
}

// IsProvisioned reports whether the partition behind h has every table and
// the seed rows of t.
func (p *Provisioner) IsProvisioned(ctx context.Context, h *Handle, t *model.Tenant) (bool, error) {
	if p.provisioned(t.StorageID) {
		return true, nil
	}
	db := h.DB().WithContext(ctx)
	if !hasSchema(db) {
		return false, nil
	}
	seeded, err := duesSeeded(db, t.ID)
	if err != nil {
		return false, err
	}
	if seeded {
		p.markProvisioned(t.StorageID)
	}
	return seeded, nil
}

// EnsureProvisioned creates the partition, its tables and indexes, and the
// Dues contribution type of t. Concurrent calls for one partition share a run.
func (p *Provisioner) EnsureProvisioned(ctx context.Context, t *model.Tenant) error {
	if p.provisioned(t.StorageID) {
		return nil
	}

	ch := p.group.DoChan(t.StorageID, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		track := prometheus.TrackProvision()
		err := p.provision(runCtx, t)
		track(err)
		if err != nil {
			p.log.Error("Failed to provision tenant partition",
				zap.String("tenant_id", t.ID),
				zap.String("storage_id", t.StorageID),
				zap.Error(err))
			if errors.Is(err, ErrConflict) {
				return nil, &TenantError{Kind: ErrConflict, TenantID: t.ID, TenantName: t.Name, Slug: t.Slug, Reason: "storage id is reserved or already in use"}
			}
			return nil, storageError(t, t.StorageID, err)
		}
		p.markProvisioned(t.StorageID)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return storageError(t, t.StorageID, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

func (p *Provisioner) provision(ctx context.Context, t *model.Tenant) error {
	if creator, ok := p.pool.Opener().(PartitionCreator); ok {
		if err := creator.CreatePartition(ctx, t.StorageID, t.ID); err != nil {
			return err
		}
	}

	h, err := p.pool.GetHandle(ctx, t.StorageID)
	if err != nil {
		return err
	}
	defer h.Release()

	db := h.DB().WithContext(ctx)
	if !hasSchema(db) {
		if err := migrate(db); err != nil {
			return err
		}
		p.log.Info("Created tenant schema", zap.String("storage_id", t.StorageID))
	}
	if err := createIndexes(db); err != nil {
		return err
	}

	return seedDues(db, t.ID)
}

// Deprovision removes the partition or rows left by a tenant whose
// registration failed. The partition is dropped only if it was made for t.
func (p *Provisioner) Deprovision(ctx context.Context, t *model.Tenant) error {
	p.Invalidate(t.StorageID)
	p.pool.CloseHandle(t.StorageID)

	dropper, ok := p.pool.Opener().(PartitionDropper)
	if !ok {
		return nil
	}
	if err := dropper.DropPartition(ctx, t.StorageID, t.ID); err != nil {
		return err
	}
	p.log.Info("Dropped tenant partition",
		zap.String("tenant_id", t.ID),
		zap.String("storage_id", t.StorageID))
	return nil
}

func hasSchema(db *gorm.DB) bool {
	m := db.Migrator()
	for _, entity := range model.TenantEntities() {
		if !m.HasTable(entity) {
			return false
		}
	}
	return true
}

func migrate(db *gorm.DB) error {
	if err := database.MigrateModels(db, model.TenantEntities()...); err != nil {
		// another process may have created the tables first
		if hasSchema(db) {
			return nil
		}
		return err
	}
	return nil
}

func createIndexes(db *gorm.DB) error {
	for _, stmt := range tenantIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func duesSeeded(db *gorm.DB, tenantID string) (bool, error) {
	var count int64
	err := db.Model(&model.ContributionType{}).
		Where("tenant_id = ? AND is_system = ? AND LOWER(name) = LOWER(?)", tenantID, true, model.DuesTypeName).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check seed rows: %w", err)
	}
	return count > 0, nil
}

// seedDues inserts the system Dues type once. Losing an insert race to
// another process counts as success.
func seedDues(db *gorm.DB, tenantID string) error {
	seeded, err := duesSeeded(db, tenantID)
	if err != nil || seeded {
		return err
	}

	dues := &model.ContributionType{
		Scoped:      model.Scoped{TenantID: tenantID},
		Name:        model.DuesTypeName,
		Description: "Monthly membership dues",
		IsSystem:    true,
	}
	if err := db.Create(dues).Error; err != nil && !database.IsUniqueViolation(err) {
		return fmt.Errorf("failed to seed dues type: %w", err)
	}
	return nil
}
