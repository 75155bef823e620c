package config

import (
	"errors"
	"time"
)

type StorefrontConfig struct {
	Env      string
	Log      LogConfig
	Backend  BackendClientConfig
	Local    LocalConfig
	Sync     SyncConfig
	Checkout CheckoutConfig
	Metrics  MetricsPushConfig
}

type BackendClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type LocalConfig struct {
	DBPath string
}

type SyncConfig struct {
	DrainInterval time.Duration
	BatchSize     int
}

type CheckoutConfig struct {
	// GatewayTimeout bounds the wait for a gateway callback; zero waits forever.
	GatewayTimeout time.Duration
	CallbackAddr   string
}

// MetricsPushConfig points at a Prometheus Pushgateway; an empty URL keeps
// metrics in-process.
type MetricsPushConfig struct {
	PushURL  string
	Job      string
	Instance string
}

var storefrontDefaults = map[string]any{
	"env":                      "development",
	"log.level":                "info",
	"log.format":               "console",
	"log.output":               "stderr",
	"backend.base_url":         "http://localhost:8080",
	"backend.request_timeout":  "10s",
	"local.db_path":            "storefront.db",
	"sync.drain_interval":      "5s",
	"sync.batch_size":          50,
	"checkout.gateway_timeout": "15m",
	"checkout.callback_addr":   "127.0.0.1:8090",
	"metrics.push_url":         "",
	"metrics.job":              "storefront",
	"metrics.instance":         "",
}

// LoadStorefront reads the storefront configuration. envFile may be empty.
func LoadStorefront(envFile string) (*StorefrontConfig, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	v, err := newViper("config", "STOREFRONT", storefrontDefaults)
	if err != nil {
		return nil, err
	}

	cfg := &StorefrontConfig{
		Env: v.GetString("env"),
		Log: logConfig(v),
		Backend: BackendClientConfig{
			BaseURL:        v.GetString("backend.base_url"),
			RequestTimeout: v.GetDuration("backend.request_timeout"),
		},
		Local: LocalConfig{
			DBPath: v.GetString("local.db_path"),
		},
		Sync: SyncConfig{
			DrainInterval: v.GetDuration("sync.drain_interval"),
			BatchSize:     v.GetInt("sync.batch_size"),
		},
		Checkout: CheckoutConfig{
			GatewayTimeout: v.GetDuration("checkout.gateway_timeout"),
			CallbackAddr:   v.GetString("checkout.callback_addr"),
		},
		Metrics: MetricsPushConfig{
			PushURL:  v.GetString("metrics.push_url"),
			Job:      v.GetString("metrics.job"),
			Instance: v.GetString("metrics.instance"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *StorefrontConfig) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Local.DBPath == "" {
		return errors.New("local.db_path is required")
	}
	if c.Sync.DrainInterval <= 0 {
		return errors.New("sync.drain_interval must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return errors.New("sync.batch_size must be positive")
	}
	if c.Checkout.GatewayTimeout < 0 {
		return errors.New("checkout.gateway_timeout cannot be negative")
	}
	if c.Metrics.PushURL != "" && c.Metrics.Job == "" {
		return errors.New("metrics.job is required when metrics.push_url is set")
	}
	return nil
}
