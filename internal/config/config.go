package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port      int
	LogLevel  string
	Env       string
	DB        DBConfig
	Kafka     KafkaConfig
	Search    SearchConfig
	Clients   ClientsConfig
	Orders    OrdersConfig
	Payments  PaymentsConfig
	Cleanup   CleanupConfig
	Outbox    OutboxConfig
	RateLimit RateLimitConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	Path     string // sqlite file
}

// KafkaConfig holds the event publishing configuration
type KafkaConfig struct {
	Brokers     []string
	OrdersTopic string
}

// SearchConfig holds the Elasticsearch configuration. An empty URL disables indexing.
type SearchConfig struct {
	URL         string
	Username    string
	Password    string
	OrdersIndex string
}

// ClientsConfig holds the collaborator service endpoints
type ClientsConfig struct {
	CatalogURL   string
	CustomersURL string
	Timeout      time.Duration
}

// OrdersConfig holds order creation settings
type OrdersConfig struct {
	IdempotencyWindow   time.Duration
	EnforceCatalogPrice bool
	CODAdvanceAmount    decimal.Decimal
}

// PaymentsConfig holds gateway settings
type PaymentsConfig struct {
	GatewayName   string
	KeySecret     string
	VerifyTimeout time.Duration
}

// CleanupConfig holds pending-order sweep settings
type CleanupConfig struct {
	OlderThan time.Duration
	Schedule  string
}

// OutboxConfig holds relay settings
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// RateLimitConfig holds per-IP write limits
type RateLimitConfig struct {
	Burst             float64
	PerSecond         float64
	TrustForwardedFor bool
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(defaultValue, 'f', -1, 64)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, defaultValue.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return v, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads the configuration from environment variables and returns a Config struct.
// A .env file in the working directory is applied first when present; real environment wins.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var (
		cfg Config
		err error
	)

	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, err
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.Env = getEnv("APP_ENV", "development")

	cfg.DB = DBConfig{
		Driver:   getEnv("DB_DRIVER", "postgres"),
		Host:     getEnv("DB_HOST", "localhost"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Name:     getEnv("DB_NAME", "storefront"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		Path:     getEnv("DB_PATH", "storefront.db"),
	}
	if cfg.DB.Port, err = getInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "sqlite" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", cfg.DB.Driver)
	}

	cfg.Kafka = KafkaConfig{
		Brokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		OrdersTopic: getEnv("KAFKA_ORDERS_TOPIC", "storefront.orders"),
	}

	cfg.Search = SearchConfig{
		URL:         getEnv("ES_URL", ""),
		Username:    getEnv("ES_USERNAME", ""),
		Password:    getEnv("ES_PASSWORD", ""),
		OrdersIndex: getEnv("ES_ORDERS_INDEX", "orders"),
	}

	cfg.Clients = ClientsConfig{
		CatalogURL:   getEnv("CATALOG_URL", "http://localhost:8081"),
		CustomersURL: getEnv("CUSTOMERS_URL", "http://localhost:8082"),
	}
	if cfg.Clients.Timeout, err = getDuration("CLIENT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.Orders.IdempotencyWindow, err = getDuration("ORDER_IDEMPOTENCY_WINDOW", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Orders.EnforceCatalogPrice, err = getBool("ORDER_ENFORCE_CATALOG_PRICE", true); err != nil {
		return nil, err
	}
	if cfg.Orders.CODAdvanceAmount, err = decimal.NewFromString(getEnv("COD_ADVANCE_AMOUNT", "200.00")); err != nil {
		return nil, fmt.Errorf("invalid COD_ADVANCE_AMOUNT: %w", err)
	}
	if cfg.Orders.CODAdvanceAmount.IsNegative() {
		return nil, fmt.Errorf("invalid COD_ADVANCE_AMOUNT: must not be negative")
	}

	cfg.Payments = PaymentsConfig{
		GatewayName: getEnv("GATEWAY_NAME", "razorpay"),
		KeySecret:   getEnv("GATEWAY_KEY_SECRET", ""),
	}
	if cfg.Payments.VerifyTimeout, err = getDuration("GATEWAY_VERIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.Cleanup.OlderThan, err = getDuration("CLEANUP_OLDER_THAN", time.Hour); err != nil {
		return nil, err
	}
	cfg.Cleanup.Schedule = getEnv("CLEANUP_SCHEDULE", "")

	if cfg.Outbox.PollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Outbox.BatchSize, err = getInt("OUTBOX_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.Outbox.MaxRetries, err = getInt("OUTBOX_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Burst, err = getFloat("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimit.PerSecond, err = getFloat("RATE_LIMIT_PER_SECOND", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimit.TrustForwardedFor, err = getBool("RATE_LIMIT_TRUST_FORWARDED_FOR", false); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GetDBConnString returns the database connection string for the configured driver
func (c *Config) GetDBConnString() string {
	if c.DB.Driver == "sqlite" {
		return "file:" + c.DB.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
