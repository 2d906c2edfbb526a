package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverBadger   = "badger"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT,default=8080"`

	StorageDriver  string        `env:"STORAGE_DRIVER,default=postgres"`
	StorageTimeout time.Duration `env:"STORAGE_TIMEOUT,default=5s"`
	BadgerPath     string        `env:"BADGER_PATH,default=./data/relay"`

	DBHost     string `env:"DB_HOST,default=localhost"`
	DBPort     string `env:"DB_PORT,default=5432"`
	DBUser     string `env:"DB_USER,default=relay"`
	DBPassword string `env:"DB_PASSWORD,default=relay_dev_password"`
	DBName     string `env:"DB_NAME,default=relay"`
	DBMaxConns int    `env:"DB_MAX_CONNS,default=10"`
	DBMigrate  bool   `env:"DB_MIGRATE,default=true"`

	JWTSecret        string `env:"JWT_SECRET,default=dev-secret-change-me"`
	AllowPlainUserID bool   `env:"ALLOW_PLAIN_USER_ID,default=false"`
	AllowedOrigins   string `env:"ALLOWED_ORIGINS,default=localhost:5173"`

	SendBufferSize int           `env:"WS_SEND_BUFFER,default=256"`
	PingInterval   time.Duration `env:"WS_PING_INTERVAL,default=30s"`
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT,default=10s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE,default=65536"`

	UploadDir      string `env:"UPLOAD_DIR,default=./uploads/files"`
	UploadMaxBytes int64  `env:"UPLOAD_MAX_BYTES,default=10485760"`

	LogLevel       string `env:"LOG_LEVEL,default=info"`
	LogFormat      string `env:"LOG_FORMAT,default=text"`
	LogFile        string `env:"LOG_FILE"`
	LogMaxSizeMB   int    `env:"LOG_MAX_SIZE_MB,default=100"`
	LogMaxBackups  int    `env:"LOG_MAX_BACKUPS,default=5"`
	LogMaxAgeDays  int    `env:"LOG_MAX_AGE_DAYS,default=14"`
	LogCompression bool   `env:"LOG_COMPRESS,default=false"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
			return errors.New("DB_HOST, DB_NAME and DB_USER are required for the postgres driver")
		}
		if c.DBMaxConns < 1 {
			return errors.New("DB_MAX_CONNS must be >= 1")
		}
	case StorageDriverBadger:
		if c.BadgerPath == "" {
			return errors.New("BADGER_PATH is required for the badger driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.StorageTimeout <= 0 {
		return errors.New("STORAGE_TIMEOUT must be positive")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.SendBufferSize < 1 {
		return errors.New("WS_SEND_BUFFER must be >= 1")
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 {
		return errors.New("WS_PING_INTERVAL and WS_WRITE_TIMEOUT must be positive")
	}
	if c.UploadDir == "" {
		return errors.New("UPLOAD_DIR is required")
	}
	if c.UploadMaxBytes < 1 {
		return errors.New("UPLOAD_MAX_BYTES must be >= 1")
	}
	return nil
}

// Origins returns the origin patterns accepted on websocket upgrade.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
