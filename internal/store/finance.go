package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dues-service/internal/model"
	"dues-service/internal/tenancy"
	"dues-service/prometheus"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrSystemRecord is returned when a seeded record would be changed
	ErrSystemRecord = errors.New("system record cannot be modified")
	// ErrInUse is returned when a record is still referenced
	ErrInUse = errors.New("record is in use")
)

// ContributionTypeRepository protects the seeded Dues type and keeps names
// unique regardless of case.
type ContributionTypeRepository struct {
	*Repository[model.ContributionType, *model.ContributionType]
}

// List returns all types, system ones first
func (r *ContributionTypeRepository) List(ctx context.Context) ([]model.ContributionType, error) {
	return r.Find(ctx, NewQuery().OrderBy("is_system", true).OrderBy("name", false))
}

// Dues returns the seeded Dues type
func (r *ContributionTypeRepository) Dues(ctx context.Context) (*model.ContributionType, error) {
	return r.FindOne(ctx, NewQuery().Eq("name", model.DuesTypeName).Eq("is_system", true))
}

func (r *ContributionTypeRepository) nameTaken(ctx context.Context, name, exceptID string) error {
	var n int64
	db := r.scoped(ctx).Where("LOWER(name) = ?", strings.ToLower(name))
	if exceptID != "" {
		db = db.Where("id <> ?", exceptID)
	}
	if err := db.Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check contribution type name: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: a contribution type named %q already exists", tenancy.ErrConflict, name)
	}
	return nil
}

// Create inserts a custom type
func (r *ContributionTypeRepository) Create(ctx context.Context, ct *model.ContributionType) error {
	if err := r.writable(); err != nil {
		return err
	}
	ct.Name = strings.TrimSpace(ct.Name)
	if ct.Name == "" {
		return fmt.Errorf("%w: name is required", tenancy.ErrValidation)
	}
	if err := r.nameTaken(ctx, ct.Name, ""); err != nil {
		return err
	}
	ct.IsSystem = false
	return r.Repository.Create(ctx, ct)
}

// Rename changes the name and description of a custom type
func (r *ContributionTypeRepository) Rename(ctx context.Context, id string, name, description *string) (*model.ContributionType, error) {
	if err := r.writable(); err != nil {
		return nil, err
	}
	ct, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ct.IsSystem {
		return nil, ErrSystemRecord
	}
	fields := map[string]interface{}{}
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", tenancy.ErrValidation)
		}
		if err := r.nameTaken(ctx, n, id); err != nil {
			return nil, err
		}
		fields["name"] = n
	}
	if description != nil {
		fields["description"] = *description
	}
	if len(fields) == 0 {
		return ct, nil
	}
	return r.UpdateFields(ctx, id, fields)
}

// Update is refused for system types
func (r *ContributionTypeRepository) Update(ctx context.Context, ct *model.ContributionType) error {
	current, err := r.FindByID(ctx, ct.ID)
	if err != nil {
		return err
	}
	if current.IsSystem {
		return ErrSystemRecord
	}
	ct.IsSystem = false
	return r.Repository.Update(ctx, ct)
}

// Delete removes a custom type that no contribution uses
func (r *ContributionTypeRepository) Delete(ctx context.Context, id string, usage *Repository[model.Contribution, *model.Contribution]) error {
	if err := r.writable(); err != nil {
		return err
	}
	ct, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if ct.IsSystem {
		return ErrSystemRecord
	}
	n, err := usage.Count(ctx, NewQuery().Eq("contribution_type_id", id))
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: used by %d contribution(s)", ErrInUse, n)
	}
	return r.Repository.Delete(ctx, id)
}

// ContributionInput describes money received outside of a plain payment
type ContributionInput struct {
	MemberID           *string
	ContributionTypeID string
	Amount             float64
	Date               time.Time
	Description        string
	RecordedBy         string
}

// ContributionResult is what a recorded contribution produced. Dues
// contributions with a member come back as a payment.
type ContributionResult struct {
	Contribution *model.Contribution `json:"contribution,omitempty"`
	Payment      *PaymentResult      `json:"payment,omitempty"`
	Receipt      *model.Receipt      `json:"receipt,omitempty"`
}

// ContributionRepository records contributions and their receipts
type ContributionRepository struct {
	*Repository[model.Contribution, *model.Contribution]
	types   *ContributionTypeRepository
	members *MemberRepository
	clock   clock.Clock
	suffix  func() int
}

// Record stores a contribution. A Dues contribution tied to a member is
// recorded as a dues payment instead.
func (r *ContributionRepository) Record(ctx context.Context, in ContributionInput) (*ContributionResult, error) {
	if err := r.writable(); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", tenancy.ErrValidation)
	}
	ct, err := r.types.FindByID(ctx, in.ContributionTypeID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: unknown contribution type", tenancy.ErrValidation)
		}
		return nil, err
	}
	if in.Date.IsZero() {
		in.Date = r.clock.Now()
	}

	if ct.IsSystem && ct.Name == model.DuesTypeName && in.MemberID != nil {
		payment, err := r.members.RecordPayment(ctx, PaymentInput{
			MemberID:   *in.MemberID,
			Amount:     in.Amount,
			PaidAt:     in.Date,
			RecordedBy: in.RecordedBy,
		})
		if err != nil {
			return nil, err
		}
		return &ContributionResult{Payment: payment, Receipt: payment.Receipt}, nil
	}

	if in.MemberID != nil {
		if _, err := r.members.FindByID(ctx, *in.MemberID); err != nil {
			if IsNotFound(err) {
				return nil, fmt.Errorf("%w: unknown member", tenancy.ErrValidation)
			}
			return nil, err
		}
	}

	defer prometheus.TrackDBOperation("record_contribution")()
	tenantID := r.TenantID()
	c := &model.Contribution{
		Scoped:             model.Scoped{ID: uuid.NewString(), TenantID: tenantID},
		MemberID:           in.MemberID,
		ContributionTypeID: ct.ID,
		Amount:             in.Amount,
		Date:               in.Date,
		Description:        in.Description,
		RecordedBy:         in.RecordedBy,
	}
	receipt := &model.Receipt{
		Scoped:         model.Scoped{ID: uuid.NewString(), TenantID: tenantID},
		ReceiptType:    model.ReceiptContribution,
		MemberID:       in.MemberID,
		ContributionID: &c.ID,
		Amount:         in.Amount,
		IssuedAt:       r.clock.Now(),
		IssuedBy:       in.RecordedBy,
	}
	c.ReceiptID = &receipt.ID

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create contribution: %w", err)
		}
		if err := issueReceipt(tx, receipt, r.clock.Now(), r.suffix); err != nil {
			return err
		}
		return logActivity(tx, tenantID, in.RecordedBy, "record_contribution", "contribution", c.ID,
			fmt.Sprintf("Recorded %s contribution of %.2f", ct.Name, in.Amount))
	})
	if err != nil {
		return nil, err
	}
	return &ContributionResult{Contribution: c, Receipt: receipt}, nil
}

// List returns contributions matching q with the contributing member expanded
func (r *ContributionRepository) List(ctx context.Context, q *Query) ([]model.Contribution, error) {
	items, err := r.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	err = Expand(ctx, items,
		func(c *model.Contribution) *string { return c.MemberID },
		r.members,
		func(c *model.Contribution, s *model.Summary) { c.Member = s })
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SubgroupRepository manages subgroups and expands their leaders
type SubgroupRepository struct {
	*Repository[model.Subgroup, *model.Subgroup]
	members *MemberRepository
}

// List returns subgroups ordered by name with leaders expanded
func (r *SubgroupRepository) List(ctx context.Context) ([]model.Subgroup, error) {
	items, err := r.Find(ctx, NewQuery().OrderBy("name", false))
	if err != nil {
		return nil, err
	}
	if err := r.expandLeaders(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// Get returns one subgroup with its leader expanded
func (r *SubgroupRepository) Get(ctx context.Context, id string) (*model.Subgroup, error) {
	sg, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items := []model.Subgroup{*sg}
	if err := r.expandLeaders(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func (r *SubgroupRepository) expandLeaders(ctx context.Context, items []model.Subgroup) error {
	return Expand(ctx, items,
		func(s *model.Subgroup) *string { return s.LeaderID },
		r.members,
		func(s *model.Subgroup, sum *model.Summary) { s.Leader = sum })
}

// Create validates the leader belongs to the tenant before inserting
func (r *SubgroupRepository) Create(ctx context.Context, sg *model.Subgroup) error {
	if err := r.writable(); err != nil {
		return err
	}
	if strings.TrimSpace(sg.Name) == "" {
		return fmt.Errorf("%w: name is required", tenancy.ErrValidation)
	}
	if err := r.CheckLeader(ctx, sg.LeaderID); err != nil {
		return err
	}
	return r.Repository.Create(ctx, sg)
}

// Delete removes the subgroup and detaches its members
func (r *SubgroupRepository) Delete(ctx context.Context, id string) error {
	if err := r.writable(); err != nil {
		return err
	}
	tenantID := r.TenantID()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.Subgroup{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete subgroup: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return tenancy.ErrNotFound
		}
		return tx.Model(&model.Member{}).
			Where("tenant_id = ? AND subgroup_id = ?", tenantID, id).
			Update("subgroup_id", nil).Error
	})
}

// CheckLeader verifies leaderID, when set, names a member of the tenant
func (r *SubgroupRepository) CheckLeader(ctx context.Context, leaderID *string) error {
	if leaderID == nil {
		return nil
	}
	if _, err := r.members.FindByID(ctx, *leaderID); err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w: leader is not a member of this tenant", tenancy.ErrValidation)
		}
		return err
	}
	return nil
}

// ReminderRepository queues dues reminders
type ReminderRepository struct {
	*Repository[model.Reminder, *model.Reminder]
	members *MemberRepository
	clock   clock.Clock
}

// QueueArrears creates one unsent reminder for each member in arrears and
// returns how many were queued.
func (r *ReminderRepository) QueueArrears(ctx context.Context, dueDate time.Time) (int, error) {
	if err := r.writable(); err != nil {
		return 0, err
	}
	members, err := r.members.Find(ctx, NewQuery())
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, m := range members {
		if m.Arrears == 0 {
			continue
		}
		reminder := &model.Reminder{
			MemberID: m.ID,
			Message:  fmt.Sprintf("Dear %s, you have %d month(s) of dues outstanding.", m.Name, m.Arrears),
			DueDate:  dueDate,
		}
		if err := r.Create(ctx, reminder); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// MarkSent flags a reminder as delivered
func (r *ReminderRepository) MarkSent(ctx context.Context, id string) (*model.Reminder, error) {
	now := r.clock.Now()
	return r.UpdateFields(ctx, id, map[string]interface{}{"sent": true, "sent_at": now})
}
