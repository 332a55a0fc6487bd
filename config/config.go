package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Store    StoreConfig    `mapstructure:"store"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// Addr returns the listen address of the ops HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"` // apply embedded schema on startup
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	ClientName  string        `mapstructure:"client_name"` // shown by CLIENT LIST
	PoolSize    int           `mapstructure:"pool_size"`   // 0 sizes the pool from stream.workers
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

// StreamConfig describes the Redis Streams event source. One stream per event type.
type StreamConfig struct {
	Group            string        `mapstructure:"group"`
	Consumer         string        `mapstructure:"consumer"` // generated when empty
	Workers          int           `mapstructure:"workers"`
	BatchSize        int64         `mapstructure:"batch_size"`
	Block            time.Duration `mapstructure:"block"`
	WalletCreated    string        `mapstructure:"wallet_created"`
	DepositReceived  string        `mapstructure:"deposit_received"`
	PaymentRequested string        `mapstructure:"payment_requested"`
	IdentityLookup   string        `mapstructure:"identity_lookup"`
	DeadLetter       string        `mapstructure:"dead_letter"` // disabled when empty
	ClaimIdle        time.Duration `mapstructure:"claim_idle"`  // 0 disables claiming from other consumers
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Prefix       string        `mapstructure:"prefix"`
	TTL          time.Duration `mapstructure:"ttl"` // 0 keeps entries forever
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

const (
	GuardNone  = "none"
	GuardLocal = "local"
	GuardRedis = "redis"
)

type GuardConfig struct {
	Strategy string        `mapstructure:"strategy"` // none, local, redis
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type TransferConfig struct {
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Validate rejects values the processor cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Guard.Strategy {
	case GuardNone, GuardLocal, GuardRedis:
	default:
		return fmt.Errorf("unknown guard strategy %q", c.Guard.Strategy)
	}
	if c.Stream.Workers < 1 {
		return fmt.Errorf("stream.workers must be at least 1, got %d", c.Stream.Workers)
	}
	if c.Stream.Group == "" {
		return fmt.Errorf("stream.group is required")
	}
	// retry-go treats zero attempts as "until success".
	if c.Transfer.RetryAttempts < 1 {
		return fmt.Errorf("transfer.retry_attempts must be at least 1, got %d", c.Transfer.RetryAttempts)
	}
	if c.Guard.Strategy == GuardRedis && c.Guard.LockTTL <= 0 {
		return fmt.Errorf("guard.lock_ttl must be positive with the redis guard")
	}
	return nil
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WLP_ (Wallet Ledger Processor).
// Nested keys use underscore: WLP_DATABASE_HOST, WLP_STREAM_WORKERS, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.client_name", "wallet-ledger")
	v.SetDefault("redis.pool_size", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("store.driver", StoreDriverPostgres)
	v.SetDefault("stream.group", "wallet-ledger")
	v.SetDefault("stream.consumer", "")
	v.SetDefault("stream.workers", 16)
	v.SetDefault("stream.batch_size", 32)
	v.SetDefault("stream.block", "2s")
	v.SetDefault("stream.wallet_created", "wallet.created")
	v.SetDefault("stream.deposit_received", "wallet.deposit")
	v.SetDefault("stream.payment_requested", "wallet.payment")
	v.SetDefault("stream.identity_lookup", "wallet.identity-lookup")
	v.SetDefault("stream.dead_letter", "")
	v.SetDefault("stream.claim_idle", "1m")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.prefix", "wallet:")
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.write_timeout", "2s")
	v.SetDefault("guard.strategy", GuardNone)
	v.SetDefault("guard.lock_ttl", "5s")
	v.SetDefault("transfer.retry_attempts", 3)
	v.SetDefault("transfer.retry_delay", "50ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// WLP_STREAM_WORKERS -> stream.workers
	v.SetEnvPrefix("WLP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional: env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
