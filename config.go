package tokenauth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Supported STORE_BACKEND values
const (
	BackendMongo     = "mongo"
	BackendDatastore = "datastore"
	BackendGORM      = "gorm"
	BackendFS        = "fs"
)

// Config is loaded once at startup and passed explicitly to constructors
type Config struct {
	Env      string `env:"AUTH_ENV"  envDefault:"development"`
	Port     int    `env:"PORT"      envDefault:"8000"`
	GRPCPort int    `env:"GRPC_PORT" envDefault:"0"` // 0 disables the gRPC listener

	JWTSecret            string `env:"JWT_SECRET,required"`
	JWTExpirationMinutes int    `env:"JWT_EXPIRATION_MINUTES" envDefault:"30"`
	BcryptCost           int    `env:"BCRYPT_COST"            envDefault:"10"`

	StoreBackend       string        `env:"STORE_BACKEND"       envDefault:"mongo"`
	MongoURI           string        `env:"MONGO_URI"           envDefault:"mongodb://localhost:27017"`
	MongoDatabase      string        `env:"MONGO_DATABASE"      envDefault:"tokenauth"`
	DatastoreProject   string        `env:"DATASTORE_PROJECT"`
	DatastoreNamespace string        `env:"DATASTORE_NAMESPACE"`
	DatabaseDriver     string        `env:"DATABASE_DRIVER"     envDefault:"postgres"`
	DatabaseDSN        string        `env:"DATABASE_DSN"`
	FSStoragePath      string        `env:"FS_STORAGE_PATH"     envDefault:"./data"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT"       envDefault:"5s"`
	OAuthTimeout       time.Duration `env:"OAUTH_TIMEOUT"       envDefault:"10s"`
	CleanupInterval    time.Duration `env:"TOKEN_CLEANUP_INTERVAL" envDefault:"1h"`
	TokenRetention     time.Duration `env:"EXPIRED_TOKEN_RETENTION" envDefault:"168h"`

	// When set, send-password-reset reports success for unknown emails
	HideUnknownResetEmails bool `env:"HIDE_UNKNOWN_RESET_EMAILS" envDefault:"false"`

	APIPrefix string `env:"API_PREFIX" envDefault:"/v1"`
	ResetURL  string `env:"RESET_URL"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// LoadConfig reads configuration from the environment
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.JWTExpirationMinutes <= 0 {
		return fmt.Errorf("config: JWT_EXPIRATION_MINUTES must be positive, got %d", c.JWTExpirationMinutes)
	}
	switch c.StoreBackend {
	case BackendMongo, BackendDatastore, BackendGORM, BackendFS:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend == BackendGORM && c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required for the gorm backend")
	}
	if c.StoreBackend == BackendDatastore && c.DatastoreProject == "" {
		return errors.New("config: DATASTORE_PROJECT is required for the datastore backend")
	}
	return nil
}

// IsTest reports whether the process runs in the test environment
func (c *Config) IsTest() bool {
	return c.Env == "test"
}

// AccessTokenExpiry is the configured access token lifetime
func (c *Config) AccessTokenExpiry() time.Duration {
	return time.Duration(c.JWTExpirationMinutes) * time.Minute
}

// SlogLevel parses LogLevel, falling back to info
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
