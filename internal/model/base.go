package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scoped carries the identity and owning tenant shared by every tenant-scoped entity
type Scoped struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID  string    `json:"tenant_id" gorm:"type:varchar(36);index;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a uuid when the caller did not supply one
func (s *Scoped) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *Scoped) GetID() string { return s.ID }

func (s *Scoped) GetTenantID() string { return s.TenantID }

func (s *Scoped) SetTenantID(id string) { s.TenantID = id }

// TenantScoped is implemented by every entity owned by a tenant
type TenantScoped interface {
	GetID() string
	GetTenantID() string
	SetTenantID(id string)
}

// Summary is the denormalized view of a referenced entity
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TenantEntities lists the tables created inside a tenant partition
func TenantEntities() []interface{} {
	return []interface{}{
		&Member{},
		&PaymentHistory{},
		&Subgroup{},
		&ContributionType{},
		&Contribution{},
		&Expenditure{},
		&Receipt{},
		&Reminder{},
		&ActivityLog{},
	}
}

// SystemEntities lists the tables kept in the system partition
func SystemEntities() []interface{} {
	return []interface{}{
		&Tenant{},
		&User{},
	}
}
