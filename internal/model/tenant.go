package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantStatus is the lifecycle state of a tenant
type TenantStatus string

const (
	TenantPending  TenantStatus = "pending"
	TenantActive   TenantStatus = "active"
	TenantInactive TenantStatus = "inactive"
	TenantRejected TenantStatus = "rejected"
	TenantArchived TenantStatus = "archived"
)

// Branding controls how a tenant presents itself
type Branding struct {
	Name           string `json:"name"`
	Logo           string `json:"logo,omitempty"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
}

// TenantSettings toggles tenant-wide behaviour
type TenantSettings struct {
	EmailNotifications bool `json:"email_notifications"`
	AutoReceipts       bool `json:"auto_receipts"`
	RemindersEnabled   bool `json:"reminders_enabled"`
}

// TenantFeatures toggles optional modules
type TenantFeatures struct {
	Subgroups   bool `json:"subgroups"`
	Expenditure bool `json:"expenditure"`
	Reports     bool `json:"reports"`
}

// TenantConfig is stored as a JSON document on the tenant row
type TenantConfig struct {
	Branding Branding       `json:"branding"`
	Settings TenantSettings `json:"settings"`
	Features TenantFeatures `json:"features"`
}

// DefaultTenantConfig returns the configuration a new tenant starts with
func DefaultTenantConfig(name string) TenantConfig {
	return TenantConfig{
		Branding: Branding{
			Name:           name,
			PrimaryColor:   "#3B82F6",
			SecondaryColor: "#1E40AF",
		},
		Settings: TenantSettings{
			EmailNotifications: true,
			AutoReceipts:       true,
			RemindersEnabled:   true,
		},
		Features: TenantFeatures{
			Subgroups:   true,
			Expenditure: true,
			Reports:     true,
		},
	}
}

// Contact holds how to reach a tenant's organisation
type Contact struct {
	Email   string `json:"email" gorm:"type:varchar(255)"`
	Phone   string `json:"phone" gorm:"type:varchar(50)"`
	Address string `json:"address" gorm:"type:text"`
}

// Tenant represents one client organisation and its storage partition
type Tenant struct {
	ID              string       `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name            string       `json:"name" gorm:"type:varchar(100);not null"`
	Slug            string       `json:"slug" gorm:"type:varchar(63);uniqueIndex;not null"`
	StorageID       string       `json:"storage_id" gorm:"type:varchar(63);uniqueIndex;not null"`
	Status          TenantStatus `json:"status" gorm:"type:varchar(20);index;not null;default:'pending'"`
	RejectionReason string       `json:"rejection_reason,omitempty" gorm:"type:text"`
	ApprovedAt      *time.Time   `json:"approved_at,omitempty"`
	ApprovedBy      string       `json:"approved_by,omitempty" gorm:"type:varchar(36)"`
	Config          TenantConfig `json:"config" gorm:"type:text;serializer:json"`
	Contact         Contact      `json:"contact" gorm:"embedded;embeddedPrefix:contact_"`
	CreatedBy       string       `json:"created_by,omitempty" gorm:"type:varchar(36)"`
	MemberCounter   int64        `json:"-" gorm:"not null;default:0"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty" gorm:"index"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// BeforeCreate assigns a uuid when the caller did not supply one
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// IsDeleted reports whether the tenant has been soft-deleted
func (t *Tenant) IsDeleted() bool {
	return t.DeletedAt != nil
}
