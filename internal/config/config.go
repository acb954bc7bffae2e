package config

import "time"

// ReplicatorConfig is the root configuration for a replicator instance.
type ReplicatorConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Store    StoreConfig    `yaml:"store"`
	Watch    WatchConfig    `yaml:"watch"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this replicator.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LedgerConfig holds the remote ledger endpoints and client settings.
type LedgerConfig struct {
	RestURL     string        `yaml:"rest_url"`
	WSURL       string        `yaml:"ws_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"` // Per request (0 = none)
	RateLimit   float64       `yaml:"rate_limit"`  // Requests per second (0 = unlimited)
	RateBurst   int           `yaml:"rate_burst"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// StoreConfig selects and configures the persistent store.
type StoreConfig struct {
	Driver   string   `yaml:"driver"` // "leveldb" or "postgres"
	Path     string   `yaml:"path"`   // LevelDB directory
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WatchConfig controls the scan/watch reconciliation session.
type WatchConfig struct {
	Scan          *bool         `yaml:"scan"`      // Baseline scan before subscribing (default true)
	Filtering     *bool         `yaml:"filtering"` // Enable ledger subscriptions (default true)
	Interval      time.Duration `yaml:"interval"`  // Rescan period (0 = no periodic rescan)
	Limit         int           `yaml:"limit"`     // Max markets per scan pass (0 = all)
	Concurrency   int           `yaml:"concurrency"`
	MarketTimeout time.Duration `yaml:"market_timeout"`
}

// ScanEnabled reports whether watch performs a baseline scan.
func (w WatchConfig) ScanEnabled() bool {
	return w.Scan == nil || *w.Scan
}

// FilteringEnabled reports whether watch subscribes to ledger notifications.
func (w WatchConfig) FilteringEnabled() bool {
	return w.Filtering == nil || *w.Filtering
}

// HTTPConfig holds the query API server settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}
