package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// StrategyDatabase gives every tenant its own physical database.
	StrategyDatabase = "database"
	// StrategyShared keeps every tenant in one database, partitioned by tenant_id.
	StrategyShared = "shared"
)

// DBConfig holds database configuration
type DBConfig struct {
	Dialect         string
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLiteDir       string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string for the system database
func (c *DBConfig) GetDSN() string {
	return c.DSNFor(c.DBName)
}

// DSNFor returns the PostgreSQL connection string for the named database
func (c *DBConfig) DSNFor(dbName string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, dbName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// TenancyConfig holds the multi-tenant storage settings
type TenancyConfig struct {
	Strategy          string
	DefaultSlug       string
	DefaultName       string
	DefaultStorageID  string
	ConnectTimeout    time.Duration
	ProvisionTimeout  time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	HandleMaxOpen     int
	HandleMaxIdle     int
	HandleMaxLifetime time.Duration
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Tenancy     TenancyConfig
}

// Load loads configuration from .env file and environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Dialect:         getEnv("DB_DIALECT", DialectPostgres),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "dues_master"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			SQLiteDir:       getEnv("SQLITE_DIR", "./data"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "duesservicesecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Tenancy: TenancyConfig{
			Strategy:          getEnv("TENANCY_STRATEGY", StrategyDatabase),
			DefaultSlug:       getEnv("DEFAULT_TENANT_SLUG", "demo"),
			DefaultName:       getEnv("DEFAULT_TENANT_NAME", "Demo Organization"),
			DefaultStorageID:  getEnv("DEFAULT_TENANT_STORAGE_ID", "demo-tenant"),
			ConnectTimeout:    getEnvAsDuration("TENANT_CONNECT_TIMEOUT", 10*time.Second),
			ProvisionTimeout:  getEnvAsDuration("TENANT_PROVISION_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("TENANT_IDLE_TIMEOUT", 30*time.Minute),
			SweepInterval:     getEnvAsDuration("TENANT_SWEEP_INTERVAL", time.Minute),
			HandleMaxOpen:     getEnvAsInt("TENANT_MAX_OPEN_CONNS", 10),
			HandleMaxIdle:     getEnvAsInt("TENANT_MAX_IDLE_CONNS", 2),
			HandleMaxLifetime: getEnvAsDuration("TENANT_CONN_MAX_LIFETIME", 30*time.Minute),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.DB.Dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return fmt.Errorf("unsupported DB_DIALECT %q", c.DB.Dialect)
	}
	switch c.Tenancy.Strategy {
	case StrategyDatabase, StrategyShared:
	default:
		return fmt.Errorf("unsupported TENANCY_STRATEGY %q", c.Tenancy.Strategy)
	}
	if c.Tenancy.DefaultSlug == "" || c.Tenancy.DefaultStorageID == "" {
		return fmt.Errorf("default tenant slug and storage id are required")
	}
	if c.Tenancy.ConnectTimeout <= 0 || c.Tenancy.ProvisionTimeout <= 0 {
		return fmt.Errorf("tenant timeouts must be positive")
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_dialect", c.DB.Dialect),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_name", c.DB.DBName),
		zap.String("tenancy_strategy", c.Tenancy.Strategy),
		zap.String("default_tenant", c.Tenancy.DefaultSlug),
		zap.String("server_port", c.Server.Port),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as booleans
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
