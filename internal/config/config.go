package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	S3        S3        `yaml:"s3"`
	Engine    Engine    `yaml:"engine"`
	Scheduler Scheduler `yaml:"scheduler"`
	Log       Log       `yaml:"log"`

	// Accounts are the account JIDs served by this process
	Accounts []string `yaml:"accounts" env:"ACCOUNTS" env-separator:","`
}

// S3 holds S3/MinIO attachment storage configuration
type S3 struct {
	Enabled         bool   `yaml:"enabled" env:"S3_ENABLED" env-default:"false"`
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"attachments"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/attachments"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Database holds database configuration
type Database struct {
	// Driver is postgres or sqlite
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`

	// PostgreSQL
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	// SQLite
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"neo-session.db"`

	// Connection pool settings
	MaxConns     int32         `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"25"`
	MinConns     int32         `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Redis holds the network session transport configuration
type Redis struct {
	Addr           string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix         string        `yaml:"prefix" env:"REDIS_PREFIX" env-default:"neo:"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"REDIS_RECONNECT_DELAY" env-default:"1s"`
	MaxReconnect   time.Duration `yaml:"max_reconnect_delay" env:"REDIS_MAX_RECONNECT_DELAY" env-default:"30s"`
}

// Engine tunes conversation behaviour
type Engine struct {
	MergePolicy       string        `yaml:"merge_policy" env:"ENGINE_MERGE_POLICY" env-default:"smart"`
	SmartMergeWindow  time.Duration `yaml:"smart_merge_window" env:"ENGINE_SMART_MERGE_WINDOW" env-default:"30s"`
	AlwaysMergeWindow time.Duration `yaml:"always_merge_window" env:"ENGINE_ALWAYS_MERGE_WINDOW" env-default:"24h"`

	ComposingTimeout     time.Duration `yaml:"composing_timeout" env:"ENGINE_COMPOSING_TIMEOUT" env-default:"60s"`
	TemporaryOccupantTTL time.Duration `yaml:"temporary_occupant_ttl" env:"ENGINE_TEMPORARY_OCCUPANT_TTL" env-default:"30s"`

	// Encryption defaults: "", "none" or "omemo"
	Encryption     string `yaml:"encryption" env:"ENGINE_ENCRYPTION"`
	ChatEncryption string `yaml:"chat_encryption" env:"ENGINE_CHAT_ENCRYPTION"`
	RoomEncryption string `yaml:"room_encryption" env:"ENGINE_ROOM_ENCRYPTION"`

	HistoryPageSize int `yaml:"history_page_size" env:"ENGINE_HISTORY_PAGE_SIZE" env-default:"50"`
}

// Scheduler holds scheduler configuration
type Scheduler struct {
	Enabled        bool          `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"false"`
	ResendInterval time.Duration `yaml:"resend_interval" env:"SCHEDULER_RESEND_INTERVAL" env-default:"1m"`
	SweepInterval  time.Duration `yaml:"sweep_interval" env:"SCHEDULER_SWEEP_INTERVAL" env-default:"10s"`
	StartDelay     time.Duration `yaml:"start_delay" env:"SCHEDULER_START_DELAY" env-default:"5s"`
}

// Log holds logging configuration
type Log struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
