package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dues-service/internal/model"
	"dues-service/pkg/database"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUser        = errors.New("invalid user")
)

// NewUser describes a principal to create
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     string
	TenantID string
	ID       string
}

// Store persists principals in the system partition
type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewStore creates a user store on the system database
func NewStore(db *gorm.DB, clk clock.Clock) *Store {
	return &Store{db: db, clock: clk}
}

// Create hashes the password and inserts the user
func (s *Store) Create(ctx context.Context, in NewUser) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" || len(in.Password) < 6 {
		return nil, fmt.Errorf("%w: username, email and a password of at least 6 characters are required", ErrInvalidUser)
	}

	switch in.Role {
	case model.RoleSystem:
		if in.TenantID != "" {
			return nil, fmt.Errorf("%w: system users cannot belong to a tenant", ErrInvalidUser)
		}
	case model.RoleSuper, model.RoleAdmin, model.RoleMember:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, in.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           in.ID,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		Active:       true,
	}
	if in.TenantID != "" {
		user.TenantID = &in.TenantID
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Exists reports whether the username or email is taken
func (s *Store) Exists(ctx context.Context, username, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("username = ? OR email = ?", strings.TrimSpace(username), strings.ToLower(strings.TrimSpace(email))).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}

// FindByID loads a user by id
func (s *Store) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// FindByUsername loads a user by username
func (s *Store) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "username = ?", strings.TrimSpace(username)).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// Authenticate checks the password of an active user
func (s *Store) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.FindByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// BindTenant assigns tenantID to a user that has no tenant yet and returns
// the tenant the user is bound to afterwards.
func (s *Store) BindTenant(ctx context.Context, userID, tenantID string) (string, error) {
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND tenant_id IS NULL AND role <> ?", userID, model.RoleSystem).
		Update("tenant_id", tenantID).Error
	if err != nil {
		return "", fmt.Errorf("failed to bind tenant: %w", err)
	}

	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.TenantID == nil {
		return "", fmt.Errorf("%w: user %s cannot be bound to a tenant", ErrInvalidUser, userID)
	}
	return *user.TenantID, nil
}

// TouchLastLogin records a successful login
func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("last_login", &now).Error
}

// ChangePassword replaces the password after verifying the current one
func (s *Store) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidUser)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("password_hash", string(hash)).Error
}

// DeleteByTenant removes the principals bound to a tenant that never finished onboarding
func (s *Store) DeleteByTenant(ctx context.Context, tenantID string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Delete(&model.User{}).Error
}
