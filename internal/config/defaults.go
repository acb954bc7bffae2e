package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL       = "http://127.0.0.1:8545/api/v1"
	DefaultWSURL         = "ws://127.0.0.1:8546/ws"
	DefaultLedgerTimeout = 30 * time.Second
	DefaultRateBurst     = 10
	DefaultPingTimeout   = 60 * time.Second
	DefaultStoreDriver   = "leveldb"
	DefaultStorePath     = "data/markets.leveldb"
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultConcurrency   = 8
	DefaultMarketTimeout = 30 * time.Second
	DefaultHTTPPort      = 8080
	DefaultMetricsPath   = "/metrics"
)

// ApplyDefaults fills in unset optional fields.
func (c *ReplicatorConfig) ApplyDefaults() {
	// Ledger defaults
	if c.Ledger.RestURL == "" {
		c.Ledger.RestURL = DefaultRestURL
	}
	if c.Ledger.WSURL == "" {
		c.Ledger.WSURL = DefaultWSURL
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = DefaultLedgerTimeout
	}
	if c.Ledger.RateBurst == 0 {
		c.Ledger.RateBurst = DefaultRateBurst
	}
	if c.Ledger.PingTimeout == 0 {
		c.Ledger.PingTimeout = DefaultPingTimeout
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Driver == "leveldb" && c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	applyDBDefaults(&c.Store.Postgres)

	// Watch defaults
	if c.Watch.Concurrency == 0 {
		c.Watch.Concurrency = DefaultConcurrency
	}
	if c.Watch.MarketTimeout == 0 {
		c.Watch.MarketTimeout = DefaultMarketTimeout
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
