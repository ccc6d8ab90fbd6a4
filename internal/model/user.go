package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleSystem = "system"
	RoleSuper  = "super"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents an authenticated principal stored in the system partition
type User struct {
	ID           string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	Username     string     `json:"username" gorm:"type:varchar(100);uniqueIndex;not null"`
	Email        string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255);not null"`
	Role         string     `json:"role" gorm:"type:varchar(20);not null;default:'admin'"`
	TenantID     *string    `json:"tenant_id,omitempty" gorm:"type:varchar(36);index"`
	Active       bool       `json:"active" gorm:"not null;default:true"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a uuid when the caller did not supply one
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// TenantRef returns the bound tenant id or the empty string
func (u *User) TenantRef() string {
	if u.TenantID == nil {
		return ""
	}
	return *u.TenantID
}
