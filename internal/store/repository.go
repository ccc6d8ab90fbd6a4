package store

import (
	"context"
	"errors"
	"fmt"

	"dues-service/internal/model"
	"dues-service/internal/tenancy"
	"dues-service/pkg/database"
	"dues-service/prometheus"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entity is the pointer form of a tenant-scoped model
type Entity[T any] interface {
	*T
	model.TenantScoped
}

// scope pins a repository to one tenant
type scope struct {
	tenantID string
	readOnly bool
}

// GroupTotal is one row of a grouped aggregation
type GroupTotal struct {
	Key   *string `gorm:"column:group_key"`
	Sum   float64 `gorm:"column:total"`
	Count int64   `gorm:"column:row_count"`
}

// Repository gives tenant-scoped access to one entity type. Every read is
// filtered by the tenant and every write is stamped with it.
type Repository[T any, P Entity[T]] struct {
	db         *gorm.DB
	scope      scope
	nameColumn string
	afterLoad  func(P)
}

func newRepository[T any, P Entity[T]](db *gorm.DB, s scope) *Repository[T, P] {
	return &Repository[T, P]{db: db, scope: s, nameColumn: "name"}
}

// TenantID returns the tenant the repository is bound to
func (r *Repository[T, P]) TenantID() string { return r.scope.tenantID }

// ReadOnly reports whether writes are refused
func (r *Repository[T, P]) ReadOnly() bool { return r.scope.readOnly }

// scoped returns a session on T restricted to the tenant
func (r *Repository[T, P]) scoped(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(P(new(T))).Where(clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: "tenant_id"},
		Value:  r.scope.tenantID,
	})
}

func (r *Repository[T, P]) writable() error {
	if r.scope.readOnly {
		return &tenancy.TenantError{Kind: tenancy.ErrTenantReadOnly, TenantID: r.scope.tenantID}
	}
	return nil
}

func (r *Repository[T, P]) loaded(items []T) []T {
	if r.afterLoad != nil {
		for i := range items {
			r.afterLoad(P(&items[i]))
		}
	}
	return items
}

// Find returns the rows matching q
func (r *Repository[T, P]) Find(ctx context.Context, q *Query) ([]T, error) {
	defer prometheus.TrackDBOperation("query")()

	db, err := q.apply(r.scoped(ctx))
	if err != nil {
		return nil, err
	}
	var items []T
	if err := db.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return r.loaded(items), nil
}

// FindOne returns the first row matching q or ErrNotFound
func (r *Repository[T, P]) FindOne(ctx context.Context, q *Query) (P, error) {
	items, err := r.Find(ctx, q.clone().Limit(1))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, tenancy.ErrNotFound
	}
	return P(&items[0]), nil
}

// FindByID returns the row with id or ErrNotFound
func (r *Repository[T, P]) FindByID(ctx context.Context, id string) (P, error) {
	return r.FindOne(ctx, NewQuery().Eq("id", id))
}

// FindByIDs returns the rows whose id is in ids, keyed by id
func (r *Repository[T, P]) FindByIDs(ctx context.Context, ids []string) (map[string]P, error) {
	out := make(map[string]P, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals := make([]interface{}, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	items, err := r.Find(ctx, NewQuery().In("id", vals...))
	if err != nil {
		return nil, err
	}
	for i := range items {
		p := P(&items[i])
		out[p.GetID()] = p
	}
	return out, nil
}

// Count returns the number of rows matching q, ignoring paging
func (r *Repository[T, P]) Count(ctx context.Context, q *Query) (int64, error) {
	db, err := q.filter(r.scoped(ctx))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// Create inserts entity under the repository tenant, whatever tenant id the
// caller supplied.
func (r *Repository[T, P]) Create(ctx context.Context, entity P) error {
	if err := r.writable(); err != nil {
		return err
	}
	return r.create(r.db.WithContext(ctx), entity)
}

func (r *Repository[T, P]) create(db *gorm.DB, entity P) error {
	defer prometheus.TrackDBOperation("insert")()

	entity.SetTenantID(r.scope.tenantID)
	if err := db.Create(entity).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", tenancy.ErrConflict, err)
		}
		return fmt.Errorf("failed to create: %w", err)
	}
	if r.afterLoad != nil {
		r.afterLoad(entity)
	}
	return nil
}

// Update saves every column of entity. The row must belong to the tenant.
func (r *Repository[T, P]) Update(ctx context.Context, entity P) error {
	if err := r.writable(); err != nil {
		return err
	}
	defer prometheus.TrackDBOperation("update")()

	entity.SetTenantID(r.scope.tenantID)
	res := r.scoped(ctx).
		Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: entity.GetID()}).
		Select("*").Omit("id", "created_at").
		Updates(entity)
	if res.Error != nil {
		if database.IsUniqueViolation(res.Error) {
			return fmt.Errorf("%w: %v", tenancy.ErrConflict, res.Error)
		}
		return fmt.Errorf("failed to update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return tenancy.ErrNotFound
	}
	if r.afterLoad != nil {
		r.afterLoad(entity)
	}
	return nil
}

// UpdateFields applies a partial update to the row with id. Keys are column
// names; tenant_id is always forced to the repository tenant.
func (r *Repository[T, P]) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (P, error) {
	if err := r.writable(); err != nil {
		return nil, err
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		if !identPattern.MatchString(k) || k == "id" || k == "created_at" {
			return nil, fmt.Errorf("%w: field %q cannot be updated", tenancy.ErrValidation, k)
		}
		updates[k] = v
	}
	updates["tenant_id"] = r.scope.tenantID

	defer prometheus.TrackDBOperation("update")()
	res := r.scoped(ctx).
		Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: id}).
		Updates(updates)
	if res.Error != nil {
		if database.IsUniqueViolation(res.Error) {
			return nil, fmt.Errorf("%w: %v", tenancy.ErrConflict, res.Error)
		}
		return nil, fmt.Errorf("failed to update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, tenancy.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

// Delete hard-deletes the row with id
func (r *Repository[T, P]) Delete(ctx context.Context, id string) error {
	if err := r.writable(); err != nil {
		return err
	}
	defer prometheus.TrackDBOperation("delete")()

	res := r.scoped(ctx).
		Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: id}).
		Delete(P(new(T)))
	if res.Error != nil {
		return fmt.Errorf("failed to delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return tenancy.ErrNotFound
	}
	return nil
}

// Sum adds up field over the rows matching q
func (r *Repository[T, P]) Sum(ctx context.Context, q *Query, field string) (float64, error) {
	if !identPattern.MatchString(field) {
		return 0, fmt.Errorf("%w: invalid field %q", tenancy.ErrValidation, field)
	}
	db, err := q.filter(r.scoped(ctx))
	if err != nil {
		return 0, err
	}
	var total float64
	err = db.Select("COALESCE(SUM(?), 0)", clause.Column{Name: field}).Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum: %w", err)
	}
	return total, nil
}

// SumBy groups the rows matching q by groupField and sums sumField per group
func (r *Repository[T, P]) SumBy(ctx context.Context, q *Query, groupField, sumField string) ([]GroupTotal, error) {
	if !identPattern.MatchString(groupField) || !identPattern.MatchString(sumField) {
		return nil, fmt.Errorf("%w: invalid aggregation fields", tenancy.ErrValidation)
	}
	db, err := q.filter(r.scoped(ctx))
	if err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("aggregate")()
	var rows []GroupTotal
	err = db.Select("? AS group_key, COALESCE(SUM(?), 0) AS total, COUNT(*) AS row_count",
		clause.Column{Name: groupField}, clause.Column{Name: sumField}).
		Group(groupField).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate: %w", err)
	}
	return rows, nil
}

// Summaries resolves ids to id/name pairs of this entity
func (r *Repository[T, P]) Summaries(ctx context.Context, ids []string) (map[string]model.Summary, error) {
	out := make(map[string]model.Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Summary
	err := r.scoped(ctx).
		Select("id, ? AS name", clause.Column{Name: r.nameColumn}).
		Where("id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}
	for _, s := range rows {
		out[s.ID] = s
	}
	return out, nil
}

// Summarizer resolves foreign ids to summaries
type Summarizer interface {
	Summaries(ctx context.Context, ids []string) (map[string]model.Summary, error)
}

// Expand fills a denormalized summary on each item from the entity its
// foreign key points at, with one batched lookup.
func Expand[T any](ctx context.Context, items []T, ref func(*T) *string, source Summarizer, assign func(*T, *model.Summary)) error {
	seen := make(map[string]bool)
	var ids []string
	for i := range items {
		if id := ref(&items[i]); id != nil && *id != "" && !seen[*id] {
			seen[*id] = true
			ids = append(ids, *id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	summaries, err := source.Summaries(ctx, ids)
	if err != nil {
		return err
	}
	for i := range items {
		if id := ref(&items[i]); id != nil {
			if s, ok := summaries[*id]; ok {
				s := s
				assign(&items[i], &s)
			}
		}
	}
	return nil
}

// IsNotFound reports whether err means the record does not exist in the tenant
func IsNotFound(err error) bool {
	return errors.Is(err, tenancy.ErrNotFound)
}
