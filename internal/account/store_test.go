package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"dues-service/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/users.db"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.User{}))

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return NewStore(db, clk), clk
}

func TestCreateAndAuthenticate(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user, err := s.Create(ctx, NewUser{Username: "alice", Email: "Alice@Example.com", Password: "secret1", Role: model.RoleAdmin, TenantID: "t1"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "t1", user.TenantRef())

	got, err := s.Authenticate(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateRejectsDuplicates(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, NewUser{Username: "bob", Email: "bob@example.com", Password: "secret1", Role: model.RoleAdmin})
	require.NoError(t, err)

	_, err = s.Create(ctx, NewUser{Username: "bob", Email: "other@example.com", Password: "secret1", Role: model.RoleAdmin})
	assert.ErrorIs(t, err, ErrUserExists)

	exists, err := s.Exists(ctx, "someone", "BOB@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateSystemUserWithTenantFails(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Create(context.Background(), NewUser{Username: "root", Email: "root@example.com", Password: "secret1", Role: model.RoleSystem, TenantID: "t1"})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestBindTenantOnlyOnce(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user, err := s.Create(ctx, NewUser{Username: "carol", Email: "carol@example.com", Password: "secret1", Role: model.RoleAdmin})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i, tenantID := range []string{"t1", "t2"} {
		wg.Add(1)
		go func(i int, tenantID string) {
			defer wg.Done()
			bound, err := s.BindTenant(ctx, user.ID, tenantID)
			assert.NoError(t, err)
			results[i] = bound
		}(i, tenantID)
	}
	wg.Wait()

	assert.Equal(t, results[0], results[1])

	bound, err := s.BindTenant(ctx, user.ID, "t3")
	require.NoError(t, err)
	assert.Equal(t, results[0], bound)
}

func TestTouchLastLogin(t *testing.T) {
	s, clk := setupStore(t)
	ctx := context.Background()

	user, err := s.Create(ctx, NewUser{Username: "dave", Email: "dave@example.com", Password: "secret1", Role: model.RoleAdmin})
	require.NoError(t, err)

	require.NoError(t, s.TouchLastLogin(ctx, user.ID))

	got, err := s.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(clk.Now()))
}

func TestChangePassword(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user, err := s.Create(ctx, NewUser{Username: "erin", Email: "erin@example.com", Password: "secret1", Role: model.RoleAdmin})
	require.NoError(t, err)

	assert.ErrorIs(t, s.ChangePassword(ctx, user.ID, "bad", "secret2"), ErrInvalidCredentials)
	require.NoError(t, s.ChangePassword(ctx, user.ID, "secret1", "secret2"))

	_, err = s.Authenticate(ctx, "erin", "secret2")
	assert.NoError(t, err)
}
