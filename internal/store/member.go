package store

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"dues-service/internal/model"
	"dues-service/internal/tenancy"
	"dues-service/pkg/database"
	"dues-service/prometheus"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const receiptAttempts = 10

// MemberCodeSource hands out human-readable member codes per tenant
type MemberCodeSource interface {
	NextMemberCode(ctx context.Context, tenantID string) (string, error)
}

// PaymentInput describes a dues payment to record
type PaymentInput struct {
	MemberID   string
	Amount     float64
	PaidAt     time.Time
	RecordedBy string
}

// PaymentResult is what a recorded payment produced
type PaymentResult struct {
	Member  *model.Member         `json:"member"`
	Payment *model.PaymentHistory `json:"payment"`
	Receipt *model.Receipt        `json:"receipt"`
}

// MemberRepository is the member accessor. Arrears are derived on every read.
type MemberRepository struct {
	*Repository[model.Member, *model.Member]
	payments  *Repository[model.PaymentHistory, *model.PaymentHistory]
	subgroups *Repository[model.Subgroup, *model.Subgroup]
	codes     MemberCodeSource
	clock     clock.Clock
	suffix    func() int
}

func newMemberRepository(db *gorm.DB, s scope, codes MemberCodeSource, clk clock.Clock) *MemberRepository {
	m := &MemberRepository{
		Repository: newRepository[model.Member](db, s),
		payments:   newRepository[model.PaymentHistory](db, s),
		subgroups:  newRepository[model.Subgroup](db, s),
		codes:      codes,
		clock:      clk,
		suffix:     func() int { return rand.IntN(1000) },
	}
	m.Repository.afterLoad = func(member *model.Member) {
		member.DeriveArrears(m.clock.Now())
	}
	return m
}

// Create inserts a member, assigning the next member code when none is given
func (m *MemberRepository) Create(ctx context.Context, member *model.Member) error {
	if err := m.writable(); err != nil {
		return err
	}
	if strings.TrimSpace(member.Name) == "" {
		return fmt.Errorf("%w: member name is required", tenancy.ErrValidation)
	}
	if member.DuesPerMonth < 0 {
		return fmt.Errorf("%w: dues per month cannot be negative", tenancy.ErrValidation)
	}
	if member.JoinDate.IsZero() {
		member.JoinDate = m.clock.Now()
	}
	if member.SubgroupID != nil && *member.SubgroupID == "" {
		member.SubgroupID = nil
	}
	if err := m.checkSubgroup(ctx, member.SubgroupID); err != nil {
		return err
	}
	if member.MemberCode == nil && m.codes != nil {
		code, err := m.codes.NextMemberCode(ctx, m.TenantID())
		if err != nil {
			return err
		}
		member.MemberCode = &code
	}
	return m.Repository.Create(ctx, member)
}

// Update saves every column of member after checking its subgroup
func (m *MemberRepository) Update(ctx context.Context, member *model.Member) error {
	if err := m.writable(); err != nil {
		return err
	}
	if err := m.checkSubgroup(ctx, member.SubgroupID); err != nil {
		return err
	}
	return m.Repository.Update(ctx, member)
}

// UpdateFields applies a partial update. A subgroup_id must name a subgroup
// of the tenant; nil or "" detaches the member.
func (m *MemberRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (*model.Member, error) {
	if err := m.writable(); err != nil {
		return nil, err
	}
	if v, ok := fields["subgroup_id"]; ok {
		ref, err := subgroupRef(v)
		if err != nil {
			return nil, err
		}
		if err := m.checkSubgroup(ctx, ref); err != nil {
			return nil, err
		}
		if ref == nil {
			fields["subgroup_id"] = nil
		} else {
			fields["subgroup_id"] = *ref
		}
	}
	return m.Repository.UpdateFields(ctx, id, fields)
}

func subgroupRef(v interface{}) (*string, error) {
	switch ref := v.(type) {
	case nil:
		return nil, nil
	case string:
		if ref == "" {
			return nil, nil
		}
		return &ref, nil
	case *string:
		if ref == nil || *ref == "" {
			return nil, nil
		}
		return ref, nil
	default:
		return nil, fmt.Errorf("%w: subgroup_id must be a string", tenancy.ErrValidation)
	}
}

// checkSubgroup verifies subgroupID, when set, names a subgroup of the tenant
func (m *MemberRepository) checkSubgroup(ctx context.Context, subgroupID *string) error {
	if subgroupID == nil {
		return nil
	}
	if _, err := m.subgroups.FindByID(ctx, *subgroupID); err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w: subgroup does not belong to this tenant", tenancy.ErrValidation)
		}
		return err
	}
	return nil
}

// Detail returns the member with its payment history attached
func (m *MemberRepository) Detail(ctx context.Context, id string) (*model.Member, error) {
	member, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := m.Payments(ctx, id)
	if err != nil {
		return nil, err
	}
	member.Payments = payments
	return member, nil
}

// Payments lists the member's payment history, newest first
func (m *MemberRepository) Payments(ctx context.Context, memberID string) ([]model.PaymentHistory, error) {
	return m.payments.Find(ctx, NewQuery().Eq("member_id", memberID).OrderBy("paid_at", true))
}

// PaymentHistory exposes the tenant's payment rows for reporting queries
func (m *MemberRepository) PaymentHistory() *Repository[model.PaymentHistory, *model.PaymentHistory] {
	return m.payments
}

// Delete removes the member together with its payment history and
// reminders, and clears it as leader of any subgroup
func (m *MemberRepository) Delete(ctx context.Context, id string) error {
	if err := m.writable(); err != nil {
		return err
	}
	tenantID := m.TenantID()
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.Member{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete member: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return tenancy.ErrNotFound
		}
		if err := tx.Where("tenant_id = ? AND member_id = ?", tenantID, id).Delete(&model.PaymentHistory{}).Error; err != nil {
			return fmt.Errorf("failed to delete payment history: %w", err)
		}
		if err := tx.Where("tenant_id = ? AND member_id = ?", tenantID, id).Delete(&model.Reminder{}).Error; err != nil {
			return fmt.Errorf("failed to delete reminders: %w", err)
		}
		err := tx.Model(&model.Subgroup{}).
			Where("tenant_id = ? AND leader_id = ?", tenantID, id).
			Update("leader_id", nil).Error
		if err != nil {
			return fmt.Errorf("failed to detach subgroup leader: %w", err)
		}
		return nil
	})
}

// RecordPayment credits a dues payment to a member. The totals, the history
// row, the receipt and the activity entry are written in one transaction.
func (m *MemberRepository) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	if err := m.writable(); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", tenancy.ErrValidation)
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = m.clock.Now()
	}
	defer prometheus.TrackDBOperation("record_payment")()

	tenantID := m.TenantID()
	var result PaymentResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member model.Member
		err := tx.Where("tenant_id = ? AND id = ?", tenantID, in.MemberID).First(&member).Error
		if err != nil {
			if database.IsNotFound(err) {
				return tenancy.ErrNotFound
			}
			return fmt.Errorf("failed to load member: %w", err)
		}
		if member.DuesPerMonth <= 0 {
			return fmt.Errorf("%w: member has no monthly dues rate", tenancy.ErrValidation)
		}
		months := int(math.Floor(in.Amount / member.DuesPerMonth))

		err = tx.Model(&model.Member{}).
			Where("tenant_id = ? AND id = ?", tenantID, member.ID).
			Updates(map[string]interface{}{
				"total_paid":     gorm.Expr("total_paid + ?", in.Amount),
				"months_covered": gorm.Expr("months_covered + ?", months),
				"updated_at":     m.clock.Now(),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update member totals: %w", err)
		}

		payment := &model.PaymentHistory{
			Scoped:        model.Scoped{ID: uuid.NewString(), TenantID: tenantID},
			MemberID:      member.ID,
			Amount:        in.Amount,
			PaidAt:        in.PaidAt,
			MonthsCovered: months,
			RecordedBy:    in.RecordedBy,
		}
		receipt := &model.Receipt{
			Scoped:      model.Scoped{ID: uuid.NewString(), TenantID: tenantID},
			ReceiptType: model.ReceiptDues,
			MemberID:    &member.ID,
			PaymentID:   &payment.ID,
			Amount:      in.Amount,
			IssuedAt:    m.clock.Now(),
			IssuedBy:    in.RecordedBy,
		}
		payment.ReceiptID = &receipt.ID

		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("failed to append payment: %w", err)
		}
		if err := m.issueReceipt(tx, receipt); err != nil {
			return err
		}
		if err := logActivity(tx, tenantID, in.RecordedBy, "record_payment", "member", member.ID,
			fmt.Sprintf("Recorded payment of %.2f for %s (%d months)", in.Amount, member.Name, months)); err != nil {
			return err
		}

		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, member.ID).First(&member).Error; err != nil {
			return fmt.Errorf("failed to reload member: %w", err)
		}
		member.DeriveArrears(m.clock.Now())
		result = PaymentResult{Member: &member, Payment: payment, Receipt: receipt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// issueReceipt numbers and inserts r, drawing a fresh number when the
// previous one is already taken in the tenant.
func (m *MemberRepository) issueReceipt(tx *gorm.DB, r *model.Receipt) error {
	return issueReceipt(tx, r, m.clock.Now(), m.suffix)
}

func issueReceipt(tx *gorm.DB, r *model.Receipt, now time.Time, suffix func() int) error {
	for attempt := 0; attempt < receiptAttempts; attempt++ {
		r.ReceiptNumber = fmt.Sprintf("RCT%s-%03d", now.Format("20060102"), suffix())

		var taken int64
		err := tx.Model(&model.Receipt{}).
			Where("tenant_id = ? AND receipt_number = ?", r.TenantID, r.ReceiptNumber).
			Count(&taken).Error
		if err != nil {
			return fmt.Errorf("failed to check receipt number: %w", err)
		}
		if taken > 0 {
			continue
		}

		sp := fmt.Sprintf("receipt_%d", attempt)
		tx.SavePoint(sp)
		err = tx.Create(r).Error
		if err == nil {
			return nil
		}
		tx.RollbackTo(sp)
		if !database.IsUniqueViolation(err) {
			return fmt.Errorf("failed to create receipt: %w", err)
		}
	}
	return fmt.Errorf("%w: could not allocate a receipt number", tenancy.ErrConflict)
}

func logActivity(tx *gorm.DB, tenantID, actor, action, entityType, entityID, details string) error {
	entry := &model.ActivityLog{
		Scoped:     model.Scoped{TenantID: tenantID},
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}
