package model

import "time"

// DuesTypeName is the seeded, non-deletable contribution type
const DuesTypeName = "Dues"

const (
	ReceiptDues         = "dues"
	ReceiptContribution = "contribution"
)

// ContributionType categorises contributions
type ContributionType struct {
	Scoped
	Name        string `json:"name" gorm:"type:varchar(100);not null"`
	Description string `json:"description,omitempty" gorm:"type:text"`
	IsSystem    bool   `json:"is_system" gorm:"not null;default:false"`
}

// Contribution is money received outside of monthly dues
type Contribution struct {
	Scoped
	MemberID           *string   `json:"member_id,omitempty" gorm:"type:varchar(36);index"`
	ContributionTypeID string    `json:"contribution_type_id" gorm:"type:varchar(36);index;not null"`
	Amount             float64   `json:"amount" gorm:"not null"`
	Date               time.Time `json:"date" gorm:"not null"`
	Description        string    `json:"description,omitempty" gorm:"type:text"`
	RecordedBy         string    `json:"recorded_by" gorm:"type:varchar(36)"`
	ReceiptID          *string   `json:"receipt_id,omitempty" gorm:"type:varchar(36)"`

	Member *Summary `json:"member,omitempty" gorm:"-"`
}

// Expenditure is money spent by the tenant
type Expenditure struct {
	Scoped
	Title       string    `json:"title" gorm:"type:varchar(200);not null"`
	Amount      float64   `json:"amount" gorm:"not null"`
	Date        time.Time `json:"date" gorm:"not null"`
	Category    string    `json:"category,omitempty" gorm:"type:varchar(100)"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	RecordedBy  string    `json:"recorded_by" gorm:"type:varchar(36)"`
}

// Receipt acknowledges either a dues payment or a contribution
type Receipt struct {
	Scoped
	ReceiptNumber  string    `json:"receipt_number" gorm:"type:varchar(30);not null"`
	ReceiptType    string    `json:"receipt_type" gorm:"type:varchar(20);not null"`
	MemberID       *string   `json:"member_id,omitempty" gorm:"type:varchar(36);index"`
	PaymentID      *string   `json:"payment_id,omitempty" gorm:"type:varchar(36)"`
	ContributionID *string   `json:"contribution_id,omitempty" gorm:"type:varchar(36)"`
	Amount         float64   `json:"amount" gorm:"not null"`
	IssuedAt       time.Time `json:"issued_at" gorm:"not null"`
	IssuedBy       string    `json:"issued_by" gorm:"type:varchar(36)"`
}

// Reminder is a dues reminder addressed to a member
type Reminder struct {
	Scoped
	MemberID string     `json:"member_id" gorm:"type:varchar(36);index;not null"`
	Message  string     `json:"message" gorm:"type:text"`
	DueDate  time.Time  `json:"due_date"`
	Sent     bool       `json:"sent" gorm:"not null;default:false"`
	SentAt   *time.Time `json:"sent_at,omitempty"`
}

// ActivityLog records an administrative action
type ActivityLog struct {
	Scoped
	Actor      string `json:"actor" gorm:"type:varchar(36)"`
	Action     string `json:"action" gorm:"type:varchar(50);not null"`
	EntityType string `json:"entity_type" gorm:"type:varchar(50)"`
	EntityID   string `json:"entity_id" gorm:"type:varchar(36)"`
	Details    string `json:"details,omitempty" gorm:"type:text"`
}
