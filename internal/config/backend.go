package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type BackendConfig struct {
	Env       string
	Log       LogConfig
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Payment   PaymentConfig
	Store     StoreConfig
	Outbox    OutboxConfig
	Catalog   CatalogConfig
	Coupons   CouponsConfig
	Inventory InventoryConfig
}

type HTTPConfig struct {
	Port            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
	// PublicURL is the externally reachable base used for hosted checkout links.
	PublicURL string
}

type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type MongoConfig struct {
	URI    string
	DBName string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
	// Users maps user id to password for the token endpoint.
	Users map[string]string
}

type PaymentConfig struct {
	KeyID  string
	Secret string
}

type StoreConfig struct {
	CODEnabled            bool
	OnlineEnabled         bool
	Currency              string
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type CatalogConfig struct {
	SeedPath string
}

type CouponsConfig struct {
	SeedPath string
}

type InventoryConfig struct {
	ReservationTTL time.Duration
	SweepInterval  time.Duration
}

var backendDefaults = map[string]any{
	"env":                           "development",
	"log.level":                     "info",
	"log.format":                    "json",
	"log.output":                    "stdout",
	"http.port":                     "8080",
	"http.request_timeout":          "30s",
	"http.shutdown_timeout":         "10s",
	"http.max_body_size":            1 << 20,
	"http.public_url":               "http://localhost:8080",
	"postgres.host":                 "localhost",
	"postgres.port":                 5432,
	"postgres.user":                 "postgres",
	"postgres.password":             "postgres",
	"postgres.dbname":               "storefront",
	"postgres.sslmode":              "disable",
	"postgres.max_open_conns":       100,
	"postgres.max_idle_conns":       10,
	"mongo.uri":                     "mongodb://localhost:27017",
	"mongo.dbname":                  "storefront",
	"redis.addr":                    "localhost:6379",
	"redis.db":                      0,
	"redis.cache_ttl":               "10m",
	"kafka.brokers":                 []string{"localhost:9092"},
	"kafka.topic":                   "order-events",
	"kafka.group_id":                "cart-service-consumer",
	"jwt.issuer":                    "storefront",
	"jwt.token_ttl":                 "24h",
	"jwt.users":                     map[string]string{"demo": "demo"},
	"payment.key_id":                "rzp_test_key",
	"store.cod_enabled":             true,
	"store.online_enabled":          true,
	"store.currency":                "INR",
	"store.tax_rate":                "18",
	"store.shipping_fee":            "40",
	"store.free_shipping_threshold": "999",
	"outbox.poll_interval":          "1s",
	"outbox.batch_size":             100,
	"catalog.seed_path":             "catalog.json",
	"coupons.seed_path":             "coupons.json",
	"inventory.reservation_ttl":     "15m",
	"inventory.sweep_interval":      "30s",
}

// LoadBackend reads the backend configuration. envFile may be empty.
func LoadBackend(envFile string) (*BackendConfig, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	v, err := newViper("backend", "BACKEND", backendDefaults)
	if err != nil {
		return nil, err
	}

	taxRate, err := decimal.NewFromString(v.GetString("store.tax_rate"))
	if err != nil {
		return nil, fmt.Errorf("store.tax_rate: %w", err)
	}
	shippingFee, err := decimal.NewFromString(v.GetString("store.shipping_fee"))
	if err != nil {
		return nil, fmt.Errorf("store.shipping_fee: %w", err)
	}
	freeShipping, err := decimal.NewFromString(v.GetString("store.free_shipping_threshold"))
	if err != nil {
		return nil, fmt.Errorf("store.free_shipping_threshold: %w", err)
	}

	cfg := &BackendConfig{
		Env: v.GetString("env"),
		Log: logConfig(v),
		HTTP: HTTPConfig{
			Port:            v.GetString("http.port"),
			RequestTimeout:  v.GetDuration("http.request_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			PublicURL:       v.GetString("http.public_url"),
		},
		Postgres: PostgresConfig{
			Host:         v.GetString("postgres.host"),
			Port:         v.GetInt("postgres.port"),
			User:         v.GetString("postgres.user"),
			Password:     v.GetString("postgres.password"),
			DBName:       v.GetString("postgres.dbname"),
			SSLMode:      v.GetString("postgres.sslmode"),
			MaxOpenConns: v.GetInt("postgres.max_open_conns"),
			MaxIdleConns: v.GetInt("postgres.max_idle_conns"),
		},
		Mongo: MongoConfig{
			URI:    v.GetString("mongo.uri"),
			DBName: v.GetString("mongo.dbname"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
			GroupID: v.GetString("kafka.group_id"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			TokenTTL: v.GetDuration("jwt.token_ttl"),
			Users:    v.GetStringMapString("jwt.users"),
		},
		Payment: PaymentConfig{
			KeyID:  v.GetString("payment.key_id"),
			Secret: v.GetString("payment.secret"),
		},
		Store: StoreConfig{
			CODEnabled:            v.GetBool("store.cod_enabled"),
			OnlineEnabled:         v.GetBool("store.online_enabled"),
			Currency:              v.GetString("store.currency"),
			TaxRate:               taxRate,
			ShippingFee:           shippingFee,
			FreeShippingThreshold: freeShipping,
		},
		Outbox: OutboxConfig{
			PollInterval: v.GetDuration("outbox.poll_interval"),
			BatchSize:    v.GetInt("outbox.batch_size"),
		},
		Catalog: CatalogConfig{
			SeedPath: v.GetString("catalog.seed_path"),
		},
		Coupons: CouponsConfig{
			SeedPath: v.GetString("coupons.seed_path"),
		},
		Inventory: InventoryConfig{
			ReservationTTL: v.GetDuration("inventory.reservation_ttl"),
			SweepInterval:  v.GetDuration("inventory.sweep_interval"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *BackendConfig) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Store.OnlineEnabled && c.Payment.Secret == "" {
		return errors.New("payment.secret is required when online payment is enabled")
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Store.Currency == "" {
		return errors.New("store.currency is required")
	}
	if c.Outbox.BatchSize <= 0 {
		return errors.New("outbox.batch_size must be positive")
	}
	return nil
}
