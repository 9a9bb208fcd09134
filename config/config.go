package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	MQBackendNone     = "none"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"

	StorageBackendNone  = "none"
	StorageBackendMinio = "minio"
	StorageBackendGCS   = "gcs"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	Env        string         `env:"ENV" envDefault:"production"`
	ServerPort int            `env:"SERVER_PORT" envDefault:"8080"`
	Database   DatabaseConfig `envPrefix:"DB_"`
	Auth       AuthConfig
	Log        LogConfig `envPrefix:"LOG_"`
	MQ         MQConfig
	Storage    StorageConfig
}

type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"authserver"`
	Password string `env:"PASSWORD" envDefault:"password"`
	DBName   string `env:"NAME" envDefault:"authserver_db"`
	UseSSL   bool   `env:"USE_SSL" envDefault:"false"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"2m"`
}

// AuthConfig holds the token and credential settings.
type AuthConfig struct {
	// SecretKey signs and verifies tokens. Required.
	SecretKey string `env:"JWT_SECRET_KEY"`

	// ExpirationMillis is the token lifetime in milliseconds.
	ExpirationMillis int64 `env:"JWT_EXPIRATION" envDefault:"86400000"`

	// AllowedRoles and AllowedPermissions are comma separated allow-lists.
	AllowedRoles       string `env:"ALLOWED_ROLES"`
	AllowedPermissions string `env:"ALLOWED_PERMISSIONS"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// HashConcurrency caps parallel bcrypt calls. Zero means GOMAXPROCS.
	HashConcurrency int `env:"HASH_CONCURRENCY" envDefault:"0"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

type MQConfig struct {
	Backend  string         `env:"MQ_BACKEND" envDefault:"none"`
	Channel  string         `env:"MQ_CHANNEL" envDefault:"auth.account-events"`
	RabbitMQ RabbitMQConfig `envPrefix:"RABBITMQ_"`
	PubSub   PubSubConfig   `envPrefix:"PUBSUB_"`
}

type RabbitMQConfig struct {
	URL             string `env:"URL"`
	QueueDurable    bool   `env:"QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"PREFETCH" envDefault:"10"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PROJECT_ID"`
	CredentialsFile    string `env:"CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

type StorageConfig struct {
	Backend string      `env:"STORAGE_BACKEND" envDefault:"none"`
	Minio   MinioConfig `envPrefix:"MINIO_"`
	GCS     GCSConfig   `envPrefix:"GCS_"`
}

type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	Bucket          string `env:"BUCKET"`
	ProjectID       string `env:"PROJECT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

// LoadConfig reads the process environment. A .env file is honoured when ENV=dev.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.MQ.Backend = strings.ToLower(strings.TrimSpace(cfg.MQ.Backend))
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Auth.SecretKey = strings.TrimSpace(cfg.Auth.SecretKey)
	return cfg, nil
}

// Validate checks the settings the HTTP server cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d out of range", c.ServerPort))
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.MQ.Backend {
	case MQBackendNone, MQBackendRabbitMQ, MQBackendPubSub:
	default:
		errs = append(errs, fmt.Errorf("unknown MQ_BACKEND %q", c.MQ.Backend))
	}
	switch c.Storage.Backend {
	case StorageBackendNone, StorageBackendMinio, StorageBackendGCS:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

func (a AuthConfig) Validate() error {
	var errs []error
	if a.SecretKey == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY is required"))
	}
	if a.ExpirationMillis <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION must be positive"))
	} else if a.TokenLifetime() < time.Second {
		errs = append(errs, errors.New("JWT_EXPIRATION must be at least 1000 milliseconds"))
	}
	if a.BcryptCost < bcrypt.MinCost || a.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if a.HashConcurrency < 0 {
		errs = append(errs, errors.New("HASH_CONCURRENCY must not be negative"))
	}
	return errors.Join(errs...)
}

// TokenLifetime converts the configured expiration into a duration.
func (a AuthConfig) TokenLifetime() time.Duration {
	return time.Duration(a.ExpirationMillis) * time.Millisecond
}

// URL builds the lib/pq connection string.
func (d DatabaseConfig) URL() string {
	sslmode := "disable"
	if d.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		User:   url.UserPassword(d.User, d.Password),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}
