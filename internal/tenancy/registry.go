package tenancy

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dues-service/internal/model"
	"dues-service/pkg/database"
	"dues-service/prometheus"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	slugPattern      = regexp.MustCompile(`^[a-z0-9-]+$`)
	storageIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

const maxIdentifierLength = 63

// ListFilter narrows Registry.List
type ListFilter struct {
	Statuses       []model.TenantStatus
	IncludeDeleted bool
	Search         string
	Limit          int
	Offset         int
}

// TenantUpdate holds the mutable tenant attributes. Slug and storage id are
// not part of it: both are fixed once assigned.
type TenantUpdate struct {
	Name    *string
	Config  *model.TenantConfig
	Contact *model.Contact
}

// Registry is the durable store of tenant records in the system partition.
type Registry struct {
	db       *gorm.DB
	clock    clock.Clock
	log      *zap.Logger
	reserved map[string]bool
}

// NewRegistry creates a registry on the system database
func NewRegistry(db *gorm.DB, clk clock.Clock, log *zap.Logger) *Registry {
	return &Registry{db: db, clock: clk, log: log, reserved: make(map[string]bool)}
}

// systemDatabases can never back a tenant partition
var systemDatabases = []string{"postgres", "template0", "template1"}

func isSystemDatabase(name string) bool {
	for _, s := range systemDatabases {
		if name == s {
			return true
		}
	}
	return false
}

// Reserve keeps storage ids such as the master database name out of tenant
// use. Call it before the registry serves requests.
func (r *Registry) Reserve(storageIDs ...string) {
	for _, id := range storageIDs {
		if id != "" {
			r.reserved[strings.ToLower(id)] = true
		}
	}
}

// ValidateIdentifiers checks the format of a slug and storage id
func ValidateIdentifiers(slug, storageID string) error {
	if len(slug) == 0 || len(slug) > maxIdentifierLength || !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug must be 1-%d characters of lowercase letters, digits and hyphens", ErrValidation, maxIdentifierLength)
	}
	if len(storageID) == 0 || len(storageID) > maxIdentifierLength || !storageIDPattern.MatchString(storageID) {
		return fmt.Errorf("%w: storage id must be 1-%d characters of lowercase letters, digits, hyphens and underscores", ErrValidation, maxIdentifierLength)
	}
	if isSystemDatabase(storageID) {
		return &TenantError{Kind: ErrConflict, Slug: slug, Reason: "storage id is reserved"}
	}
	return nil
}

// FindByID returns the tenant including soft-deleted ones
func (r *Registry) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	return r.findOne(ctx, "id", id)
}

// FindBySlug returns the tenant including soft-deleted ones
func (r *Registry) FindBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return r.findOne(ctx, "slug", slug)
}

func (r *Registry) findOne(ctx context.Context, column, value string) (*model.Tenant, error) {
	defer prometheus.TrackDBOperation("tenant_query")()

	var t model.Tenant
	if err := r.db.WithContext(ctx).Where(column+" = ?", value).First(&t).Error; err != nil {
		if database.IsNotFound(err) {
			te := &TenantError{Kind: ErrTenantNotFound}
			if column == "slug" {
				te.Slug = value
			} else {
				te.TenantID = value
			}
			return nil, te
		}
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	return &t, nil
}

// Create validates and inserts a tenant. Any existing record with the same
// slug or storage id blocks creation, soft-deleted ones included.
func (r *Registry) Create(ctx context.Context, t *model.Tenant) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: tenant name is required", ErrValidation)
	}
	if err := ValidateIdentifiers(t.Slug, t.StorageID); err != nil {
		return err
	}
	if r.reserved[t.StorageID] {
		return &TenantError{Kind: ErrConflict, TenantName: t.Name, Slug: t.Slug, Reason: "storage id is reserved"}
	}
	if t.Status == "" {
		t.Status = model.TenantPending
	}
	if t.Status != model.TenantPending && t.Status != model.TenantActive {
		return fmt.Errorf("%w: a tenant starts pending or active", ErrValidation)
	}
	if t.Config.Branding.Name == "" {
		t.Config = model.DefaultTenantConfig(t.Name)
	}
	if t.Status == model.TenantActive && t.ApprovedAt == nil {
		now := r.clock.Now()
		t.ApprovedAt = &now
	}
	t.DeletedAt = nil

	defer prometheus.TrackDBOperation("tenant_insert")()

	var existing int64
	err := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("slug = ? OR storage_id = ?", t.Slug, t.StorageID).
		Count(&existing).Error
	if err != nil {
		return fmt.Errorf("failed to check tenant uniqueness: %w", err)
	}
	if existing > 0 {
		return &TenantError{Kind: ErrConflict, TenantName: t.Name, Slug: t.Slug, Reason: "slug or storage id already in use"}
	}

	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return &TenantError{Kind: ErrConflict, TenantName: t.Name, Slug: t.Slug, Reason: "slug or storage id already in use", Err: err}
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	prometheus.RecordTenantOperation("create")
	r.log.Info("Tenant created",
		zap.String("tenant_id", t.ID),
		zap.String("slug", t.Slug),
		zap.String("storage_id", t.StorageID),
		zap.String("status", string(t.Status)))
	return nil
}

// Update changes the mutable attributes of a live tenant
func (r *Registry) Update(ctx context.Context, id string, u TenantUpdate) (*model.Tenant, error) {
	t, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsDeleted() {
		return nil, tenantError(ErrTenantGone, t, nil)
	}

	var columns []string
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tenant name is required", ErrValidation)
		}
		t.Name = name
		columns = append(columns, "name")
	}
	if u.Config != nil {
		t.Config = *u.Config
		columns = append(columns, "config")
	}
	if u.Contact != nil {
		t.Contact = *u.Contact
		columns = append(columns, "contact_email", "contact_phone", "contact_address")
	}
	if len(columns) == 0 {
		return t, nil
	}

	defer prometheus.TrackDBOperation("tenant_update")()
	if err := r.db.WithContext(ctx).Model(t).Select(columns).Updates(t).Error; err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	prometheus.RecordTenantOperation("update")
	return r.FindByID(ctx, id)
}

// List returns tenants matching f and the total count before paging
func (r *Registry) List(ctx context.Context, f ListFilter) ([]model.Tenant, int64, error) {
	defer prometheus.TrackDBOperation("tenant_list")()

	q := r.db.WithContext(ctx).Model(&model.Tenant{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if !f.IncludeDeleted {
		q = q.Where("deleted_at IS NULL")
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		like := "%" + s + "%"
		q = q.Where("LOWER(name) LIKE ? OR slug LIKE ?", like, like)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var tenants []model.Tenant
	if err := q.Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, total, nil
}

// Approve moves a pending tenant to active
func (r *Registry) Approve(ctx context.Context, id, approvedBy string) (*model.Tenant, error) {
	now := r.clock.Now()
	return r.transition(ctx, id, "approve", []model.TenantStatus{model.TenantPending}, model.TenantActive, map[string]interface{}{
		"approved_at":      &now,
		"approved_by":      approvedBy,
		"rejection_reason": "",
	})
}

// Reject moves a pending tenant to rejected, storing the trimmed reason verbatim
func (r *Registry) Reject(ctx context.Context, id, reason string) (*model.Tenant, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", ErrValidation)
	}
	return r.transition(ctx, id, "reject", []model.TenantStatus{model.TenantPending}, model.TenantRejected, map[string]interface{}{
		"rejection_reason": reason,
	})
}

// Deactivate moves an active tenant to inactive
func (r *Registry) Deactivate(ctx context.Context, id string) (*model.Tenant, error) {
	return r.transition(ctx, id, "deactivate", []model.TenantStatus{model.TenantActive}, model.TenantInactive, nil)
}

// Activate moves an inactive tenant back to active
func (r *Registry) Activate(ctx context.Context, id string) (*model.Tenant, error) {
	return r.transition(ctx, id, "activate", []model.TenantStatus{model.TenantInactive}, model.TenantActive, nil)
}

// SoftDelete archives a tenant and stamps its deletion time. The row is kept.
func (r *Registry) SoftDelete(ctx context.Context, id string) (*model.Tenant, error) {
	now := r.clock.Now()
	return r.transition(ctx, id, "archive", []model.TenantStatus{model.TenantActive, model.TenantInactive}, model.TenantArchived, map[string]interface{}{
		"deleted_at": &now,
	})
}

// Restore clears the deletion time of an archived tenant and reactivates it
func (r *Registry) Restore(ctx context.Context, id string) (*model.Tenant, error) {
	return r.transition(ctx, id, "restore", []model.TenantStatus{model.TenantArchived}, model.TenantActive, map[string]interface{}{
		"deleted_at": nil,
	})
}

// transition applies a status edge with a conditional update so that two
// concurrent operators cannot both move the tenant out of the same state.
func (r *Registry) transition(ctx context.Context, id, op string, from []model.TenantStatus, to model.TenantStatus, extra map[string]interface{}) (*model.Tenant, error) {
	t, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !containsStatus(from, t.Status) || !CanTransition(t.Status, to) {
		te := tenantError(ErrInvalidStateTransition, t, nil)
		te.Reason = fmt.Sprintf("cannot %s a tenant in status %s", op, t.Status)
		return nil, te
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	defer prometheus.TrackDBOperation("tenant_transition")()
	res := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("id = ? AND status = ?", id, t.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to %s tenant: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		te := tenantError(ErrInvalidStateTransition, current, nil)
		te.Reason = fmt.Sprintf("tenant changed to %s concurrently", current.Status)
		return nil, te
	}

	prometheus.RecordTenantOperation(op)
	r.log.Info("Tenant status changed",
		zap.String("tenant_id", id),
		zap.String("from", string(t.Status)),
		zap.String("to", string(to)))
	return r.FindByID(ctx, id)
}

// purge hard-deletes a tenant. Only onboarding compensation uses it.
func (r *Registry) purge(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Tenant{}).Error; err != nil {
		return fmt.Errorf("failed to roll back tenant %s: %w", id, err)
	}
	prometheus.RecordTenantOperation("rollback")
	return nil
}

// NextMemberCode reserves the next member code of a tenant, in the form
// INITIALS-00001.
func (r *Registry) NextMemberCode(ctx context.Context, tenantID string) (string, error) {
	var t model.Tenant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Tenant{}).
			Where("id = ?", tenantID).
			UpdateColumn("member_counter", gorm.Expr("member_counter + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &TenantError{Kind: ErrTenantNotFound, TenantID: tenantID}
		}
		return tx.Select("name", "member_counter").First(&t, "id = ?", tenantID).Error
	})
	if err != nil {
		var te *TenantError
		if errors.As(err, &te) {
			return "", err
		}
		return "", fmt.Errorf("failed to reserve member code: %w", err)
	}
	return fmt.Sprintf("%s-%05d", Initials(t.Name), t.MemberCounter), nil
}

// Initials returns the upper-case first letters of the words in name, or ORG.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				b.WriteString(strings.ToUpper(string(r)))
				break
			}
		}
	}
	if b.Len() == 0 {
		return "ORG"
	}
	return b.String()
}

func containsStatus(list []model.TenantStatus, s model.TenantStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
