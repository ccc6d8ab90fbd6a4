package model

import "time"

// Member is a dues-paying individual of one tenant
type Member struct {
	Scoped
	Name          string    `json:"name" gorm:"type:varchar(150);not null"`
	MemberCode    *string   `json:"member_code,omitempty" gorm:"type:varchar(30)"`
	Email         string    `json:"email,omitempty" gorm:"type:varchar(255)"`
	Phone         string    `json:"phone,omitempty" gorm:"type:varchar(50)"`
	JoinDate      time.Time `json:"join_date" gorm:"not null"`
	DuesPerMonth  float64   `json:"dues_per_month" gorm:"not null;default:0"`
	TotalPaid     float64   `json:"total_paid" gorm:"not null;default:0"`
	MonthsCovered int       `json:"months_covered" gorm:"not null;default:0"`
	SubgroupID    *string   `json:"subgroup_id,omitempty" gorm:"type:varchar(36);index"`
	Role          string    `json:"role" gorm:"type:varchar(20);not null;default:'member'"`

	// Derived on every read.
	Arrears  int              `json:"arrears" gorm:"-"`
	Subgroup *Summary         `json:"subgroup,omitempty" gorm:"-"`
	Payments []PaymentHistory `json:"payments,omitempty" gorm:"-"`
}

// MonthsSinceJoin counts calendar months from join to now, both inclusive.
// Months are taken in UTC whatever location either time carries.
func MonthsSinceJoin(joinDate, now time.Time) int {
	joinDate, now = joinDate.UTC(), now.UTC()
	months := (now.Year()-joinDate.Year())*12 + int(now.Month()) - int(joinDate.Month()) + 1
	if months < 0 {
		return 0
	}
	return months
}

// ArrearsAt returns the months of dues owed at now, never negative
func ArrearsAt(joinDate time.Time, monthsCovered int, now time.Time) int {
	arrears := MonthsSinceJoin(joinDate, now) - monthsCovered
	if arrears < 0 {
		return 0
	}
	return arrears
}

// DeriveArrears refreshes the Arrears field from the stored totals
func (m *Member) DeriveArrears(now time.Time) {
	m.Arrears = ArrearsAt(m.JoinDate, m.MonthsCovered, now)
}

// PaymentHistory is one append-only dues payment of a member
type PaymentHistory struct {
	Scoped
	MemberID      string    `json:"member_id" gorm:"type:varchar(36);index;not null"`
	Amount        float64   `json:"amount" gorm:"not null"`
	PaidAt        time.Time `json:"paid_at" gorm:"not null"`
	MonthsCovered int       `json:"months_covered" gorm:"not null"`
	RecordedBy    string    `json:"recorded_by" gorm:"type:varchar(36)"`
	ReceiptID     *string   `json:"receipt_id,omitempty" gorm:"type:varchar(36)"`
}

// Subgroup groups members under a leader
type Subgroup struct {
	Scoped
	Name        string   `json:"name" gorm:"type:varchar(150);not null"`
	Description string   `json:"description,omitempty" gorm:"type:text"`
	LeaderID    *string  `json:"leader_id,omitempty" gorm:"type:varchar(36);index"`
	Leader      *Summary `json:"leader,omitempty" gorm:"-"`
}
