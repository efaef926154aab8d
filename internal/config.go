package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Purchase      PurchaseConfig      `mapstructure:"purchase"`
	Risk          RiskConfig          `mapstructure:"risk"`
	Loyalty       LoyaltyConfig       `mapstructure:"loyalty"`
	Worker        WorkerConfig        `mapstructure:"worker"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
	ValidateRequests  bool          `mapstructure:"validate_requests"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret" validate:"required,min=32"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m,max=1h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"required,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// CacheConfig selects the read-through cache backend. An empty RedisAddr
// keeps everything in process memory.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	ProductTTL    time.Duration `mapstructure:"product_ttl"`
}

type PurchaseConfig struct {
	PaymentTimeout       time.Duration `mapstructure:"payment_timeout"`
	StoreTimeout         time.Duration `mapstructure:"store_timeout"`
	ReadRetries          int           `mapstructure:"read_retries"`
	ReadRetryDelay       time.Duration `mapstructure:"read_retry_delay"`
	DefaultPaymentMethod string        `mapstructure:"default_payment_method"`
}

type RiskConfig struct {
	SuspiciousDomains []string      `mapstructure:"suspicious_domains"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	HighThreshold     int           `mapstructure:"high_threshold"`
	MediumThreshold   int           `mapstructure:"medium_threshold"`
	HistoryLimit      int           `mapstructure:"history_limit"`
}

type LoyaltyConfig struct {
	PointsPerUnit string        `mapstructure:"points_per_unit"`
	CreditExpiry  time.Duration `mapstructure:"credit_expiry"`
}

type WorkerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	JobQueueSize  int           `mapstructure:"job_queue_size"`
	BatchSize     int           `mapstructure:"batch_size"`
}

// ----------------- DEFAULTS -----------------

// ApplyDefaults fills zero values with the documented policy defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.OpenAPIPath == "" {
		c.Server.OpenAPIPath = "./api/openapi.yml"
	}
	if c.Security.AccessTokenDuration == 0 {
		c.Security.AccessTokenDuration = 15 * time.Minute
	}
	if c.Security.RefreshTokenDuration == 0 {
		c.Security.RefreshTokenDuration = 7 * 24 * time.Hour
	}
	if c.Security.BCryptCost == 0 {
		c.Security.BCryptCost = 12
	}
	if c.Cache.ProductTTL == 0 {
		c.Cache.ProductTTL = time.Minute
	}
	if c.Purchase.PaymentTimeout == 0 {
		c.Purchase.PaymentTimeout = 30 * time.Minute
	}
	if c.Purchase.StoreTimeout == 0 {
		c.Purchase.StoreTimeout = 5 * time.Second
	}
	if c.Purchase.ReadRetries == 0 {
		c.Purchase.ReadRetries = 3
	}
	if c.Purchase.ReadRetryDelay == 0 {
		c.Purchase.ReadRetryDelay = 50 * time.Millisecond
	}
	if c.Purchase.DefaultPaymentMethod == "" {
		c.Purchase.DefaultPaymentMethod = "bank_transfer"
	}
	if c.Risk.CacheTTL == 0 {
		c.Risk.CacheTTL = 5 * time.Minute
	}
	if c.Risk.HighThreshold == 0 {
		c.Risk.HighThreshold = 80
	}
	if c.Risk.MediumThreshold == 0 {
		c.Risk.MediumThreshold = 60
	}
	if c.Risk.HistoryLimit == 0 {
		c.Risk.HistoryLimit = 100
	}
	if c.Loyalty.PointsPerUnit == "" {
		c.Loyalty.PointsPerUnit = "1"
	}
	if c.Loyalty.CreditExpiry == 0 {
		c.Loyalty.CreditExpiry = 90 * 24 * time.Hour
	}
	if c.Worker.SweepInterval == 0 {
		c.Worker.SweepInterval = 30 * time.Second
	}
	if c.Worker.MaxWorkers == 0 {
		c.Worker.MaxWorkers = 4
	}
	if c.Worker.JobQueueSize == 0 {
		c.Worker.JobQueueSize = 100
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 50
	}
}

// LoadConfigFromEnv builds the configuration for container deployments where
// no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
			OpenAPIPath:       getEnv("OPENAPI_PATH", "./api/openapi.yml"),
			ValidateRequests:  getEnv("VALIDATE_REQUESTS", "true") == "true",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			AccessTokenSecret:    getEnv("ACCESS_TOKEN_SECRET", ""),
			RefreshTokenSecret:   getEnv("REFRESH_TOKEN_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			ProductTTL:    getEnvAsDuration("PRODUCT_CACHE_TTL", time.Minute),
		},
		Purchase: PurchaseConfig{
			PaymentTimeout:       getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Minute),
			StoreTimeout:         getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
			ReadRetries:          getEnvAsInt("STORE_READ_RETRIES", 3),
			ReadRetryDelay:       getEnvAsDuration("STORE_READ_RETRY_DELAY", 50*time.Millisecond),
			DefaultPaymentMethod: getEnv("DEFAULT_PAYMENT_METHOD", "bank_transfer"),
		},
		Risk: RiskConfig{
			SuspiciousDomains: splitList(getEnv("RISK_SUSPICIOUS_DOMAINS", "tempmail.com,10minutemail.com,guerrillamail.com,mailinator.com")),
			CacheTTL:          getEnvAsDuration("RISK_CACHE_TTL", 5*time.Minute),
			HighThreshold:     getEnvAsInt("RISK_HIGH_THRESHOLD", 80),
			MediumThreshold:   getEnvAsInt("RISK_MEDIUM_THRESHOLD", 60),
			HistoryLimit:      getEnvAsInt("RISK_HISTORY_LIMIT", 100),
		},
		Loyalty: LoyaltyConfig{
			PointsPerUnit: getEnv("LOYALTY_POINTS_PER_UNIT", "1"),
			CreditExpiry:  getEnvAsDuration("LOYALTY_CREDIT_EXPIRY", 90*24*time.Hour),
		},
		Worker: WorkerConfig{
			SweepInterval: getEnvAsDuration("WORKER_SWEEP_INTERVAL", 30*time.Second),
			MaxWorkers:    getEnvAsInt("WORKER_MAX_WORKERS", 4),
			JobQueueSize:  getEnvAsInt("WORKER_JOB_QUEUE_SIZE", 100),
			BatchSize:     getEnvAsInt("WORKER_BATCH_SIZE", 50),
		},
	}
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Purchase.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("purchase config: %v", err))
	}

	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("risk config: %v", err))
	}

	if err := c.Loyalty.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("loyalty config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.AccessTokenSecret) < 32 {
		return errors.New("access_token_secret must be at least 32 characters")
	}
	if len(c.RefreshTokenSecret) < 32 {
		return errors.New("refresh_token_secret must be at least 32 characters")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("access and refresh token secrets must differ")
	}
	return nil
}

func (c *PurchaseConfig) Validate() error {
	if c.PaymentTimeout <= 0 {
		return errors.New("payment_timeout must be positive")
	}
	if c.ReadRetries < 0 {
		return errors.New("read_retries cannot be negative")
	}
	return nil
}

func (c *RiskConfig) Validate() error {
	if c.MediumThreshold <= 0 || c.HighThreshold > 100 || c.MediumThreshold >= c.HighThreshold {
		return fmt.Errorf("thresholds must satisfy 0 < medium (%d) < high (%d) <= 100", c.MediumThreshold, c.HighThreshold)
	}
	return nil
}

func (c *LoyaltyConfig) Validate() error {
	if _, err := strconv.ParseFloat(c.PointsPerUnit, 64); err != nil {
		return fmt.Errorf("points_per_unit is not a number: %w", err)
	}
	if c.CreditExpiry <= 0 {
		return errors.New("credit_expiry must be positive")
	}
	return nil
}
