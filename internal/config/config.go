package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "STOCK"

const (
	StoreMemory   = "memory"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"

	StrategyOptimistic  = "optimistic"
	StrategyPessimistic = "pessimistic"
	StrategyMutex       = "mutex"
	StrategyNamedLock   = "named_lock"
	StrategyNaive       = "naive"
)

type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	Store    string `mapstructure:"store"`
	Strategy string `mapstructure:"strategy"`

	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Stock    StockConfig    `mapstructure:"stock"`
	Lock     LockConfig     `mapstructure:"lock"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

type MySQLConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// StockConfig seeds one stock at startup when it does not exist yet.
type StockConfig struct {
	ID      string `mapstructure:"id"`
	Initial int64  `mapstructure:"initial"`
}

type LockConfig struct {
	Wait time.Duration `mapstructure:"wait"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":50051")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("store", StoreMemory)
	v.SetDefault("strategy", StrategyOptimistic)

	v.SetDefault("mysql.dsn", "root:root@tcp(localhost:3306)/stockguard?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 25)
	v.SetDefault("mysql.conn_lifetime", 5*time.Minute)

	v.SetDefault("postgres.dsn", "host=localhost port=5432 user=postgres password=postgres dbname=stockguard sslmode=disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("stock.id", "iphone-15")
	v.SetDefault("stock.initial", 100)

	v.SetDefault("lock.wait", 3*time.Second)
	v.SetDefault("lock.ttl", 3*time.Second)

	v.SetDefault("retry.max_attempts", 100)
	v.SetDefault("retry.backoff", 50*time.Millisecond)
	v.SetDefault("retry.max_backoff", time.Second)
	v.SetDefault("retry.multiplier", 1.0)
	v.SetDefault("retry.jitter", 0.0)
}

// Load reads defaults, an optional .env file, an optional config file named
// by STOCK_CONFIG, and STOCK_* environment variables, in increasing order of
// precedence. Nested keys map to env names with "_", e.g. STOCK_RETRY_BACKOFF.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreMySQL, StorePostgres:
	default:
		return fmt.Errorf("store: unknown value %q", c.Store)
	}

	switch c.Strategy {
	case StrategyOptimistic, StrategyPessimistic, StrategyMutex, StrategyNamedLock, StrategyNaive:
	default:
		return fmt.Errorf("strategy: unknown value %q", c.Strategy)
	}

	if c.Stock.ID == "" {
		return fmt.Errorf("stock.id is required")
	}
	if c.Stock.Initial < 0 {
		return fmt.Errorf("stock.initial must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than zero")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1")
	}
	return nil
}
