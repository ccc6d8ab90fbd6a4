package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dues-service/pkg/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig sizes the sql.DB behind a gorm handle
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// InitDB opens the system database described by dbConfig
func InitDB(dbConfig *config.DBConfig) (*gorm.DB, error) {
	pool := PoolConfig{
		MaxIdleConns:    dbConfig.MaxIdleConns,
		MaxOpenConns:    dbConfig.MaxOpenConns,
		ConnMaxLifetime: dbConfig.ConnMaxLifetime,
	}
	return Open(dbConfig, dbConfig.DBName, pool)
}

// Open connects to the named database using the configured dialect.
// For sqlite the name is a file under SQLiteDir.
func Open(dbConfig *config.DBConfig, name string, pool PoolConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbConfig.Dialect {
	case config.DialectSQLite:
		if err := os.MkdirAll(dbConfig.SQLiteDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
		dialector = sqlite.Open(SQLitePath(dbConfig.SQLiteDir, name))
		// sqlite serialises writers; one connection avoids SQLITE_BUSY
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	default:
		dialector = postgres.New(postgres.Config{
			DSN:                  dbConfig.DSNFor(name),
			PreferSimpleProtocol: true, // Disables implicit prepared statement usage
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(dbConfig.LogLevel),
		TranslateError:         true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", name, err)
	}

	if err := ConfigurePool(db, pool); err != nil {
		return nil, err
	}
	return db, nil
}

// ConfigurePool applies connection pool limits to db
func ConfigurePool(db *gorm.DB, pool PoolConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database object: %w", err)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return nil
}

// SQLitePath returns the file backing the named sqlite database
func SQLitePath(dir, name string) string {
	return filepath.Join(dir, name+".db")
}

// MigrateModels runs migrations for the provided models
func MigrateModels(db *gorm.DB, models ...interface{}) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	return nil
}

// Close releases the connections held by db
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
