package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("dues")
	require.NoError(t, err)

	assert.Equal(t, "dues", cfg.ServiceName)
	assert.Equal(t, DialectPostgres, cfg.DB.Dialect)
	assert.Equal(t, StrategyDatabase, cfg.Tenancy.Strategy)
	assert.Equal(t, "demo", cfg.Tenancy.DefaultSlug)
	assert.Equal(t, "demo-tenant", cfg.Tenancy.DefaultStorageID)
	assert.Equal(t, 10*time.Second, cfg.Tenancy.ConnectTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_DIALECT", "sqlite")
	t.Setenv("TENANCY_STRATEGY", "shared")
	t.Setenv("TENANT_CONNECT_TIMEOUT", "3s")
	t.Setenv("DB_LOG_LEVEL", "silent")
	t.Setenv("TENANT_MAX_OPEN_CONNS", "4")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load("dues")
	require.NoError(t, err)

	assert.Equal(t, DialectSQLite, cfg.DB.Dialect)
	assert.Equal(t, StrategyShared, cfg.Tenancy.Strategy)
	assert.Equal(t, 3*time.Second, cfg.Tenancy.ConnectTimeout)
	assert.Equal(t, logger.Silent, cfg.DB.LogLevel)
	assert.Equal(t, 4, cfg.Tenancy.HandleMaxOpen)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("TENANCY_STRATEGY", "sharded")

	_, err := Load("dues")
	assert.ErrorContains(t, err, "TENANCY_STRATEGY")
}

func TestDSNFor(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "master", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=acme-db sslmode=disable", c.DSNFor("acme-db"))
	assert.Contains(t, c.GetDSN(), "dbname=master")
}
