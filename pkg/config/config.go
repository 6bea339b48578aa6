package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// Store drivers understood by the persistence gateway
const (
	StoreDriverPostgres = "postgres"
	StoreDriverBadger   = "badger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// StoreConfig selects the persistence gateway implementation
type StoreConfig struct {
	Driver    string
	BadgerDir string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	OpsPort        string
	Env            string
	DedupWindow    time.Duration
	OutboundBuffer int
	MaxFrameBytes  int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
	// EnvFile is watched for LOG_LEVEL changes while the server runs
	EnvFile string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// ShopConfig holds shop-level settings
type ShopConfig struct {
	AdminUsername string
	AdminPassword string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Store       StoreConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Shop        ShopConfig
}

// Load loads configuration from the env file and environment variables.
// Values explicitly set on v (usually bound command line flags) win over the environment.
func Load(serviceName string, v *viper.Viper) (*Config, error) {
	envFile := ".env"
	if v != nil && v.IsSet("env-file") {
		envFile = v.GetString("env-file")
	}

	// Load .env file if it exists
	if err := godotenv.Load(envFile); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: %s not found, using environment variables\n", envFile)
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "commerce"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Store: StoreConfig{
			Driver:    getEnv("STORE_DRIVER", StoreDriverPostgres),
			BadgerDir: getEnv("BADGER_DIR", "./data/badger"),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			OpsPort:        getEnv("OPS_PORT", "9090"),
			Env:            getEnv("APP_ENV", "development"),
			DedupWindow:    getEnvAsDuration("DEDUP_WINDOW", 400*time.Millisecond),
			OutboundBuffer: getEnvAsInt("OUTBOUND_BUFFER", 64),
			MaxFrameBytes:  getEnvAsInt("MAX_FRAME_BYTES", 1<<20),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "commercesecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			EnvFile: envFile,
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "commerce"),
		},
		Shop: ShopConfig{
			AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
			AdminPassword: getEnv("ADMIN_PASSWORD", "123456"),
		},
	}

	if v != nil {
		if v.IsSet("port") {
			config.Server.Port = v.GetString("port")
		}
		if v.IsSet("ops-port") {
			config.Server.OpsPort = v.GetString("ops-port")
		}
		if v.IsSet("store") {
			config.Store.Driver = v.GetString("store")
		}
		if v.IsSet("badger-dir") {
			config.Store.BadgerDir = v.GetString("badger-dir")
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverBadger:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.DedupWindow < 0 {
		return fmt.Errorf("dedup window must not be negative, got %s", c.Server.DedupWindow)
	}
	if c.Server.OutboundBuffer <= 0 {
		return fmt.Errorf("outbound buffer must be positive, got %d", c.Server.OutboundBuffer)
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("max frame bytes must be positive, got %d", c.Server.MaxFrameBytes)
	}
	if c.Shop.AdminUsername == "" {
		return fmt.Errorf("admin username must not be empty")
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	fields := []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("store_driver", c.Store.Driver),
		zap.String("server_port", c.Server.Port),
		zap.String("ops_port", c.Server.OpsPort),
	}
	if c.Store.Driver == StoreDriverPostgres {
		fields = append(fields,
			zap.String("db_host", c.DB.Host),
			zap.String("db_port", c.DB.Port),
			zap.String("db_user", c.DB.User),
			zap.String("db_name", c.DB.DBName),
		)
	}
	return fields
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
