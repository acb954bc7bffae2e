package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ReplicatorConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Ledger.RestURL == "" {
		return errors.New("ledger.rest_url is required")
	}
	if c.Watch.FilteringEnabled() && c.Ledger.WSURL == "" {
		return errors.New("ledger.ws_url is required when filtering is enabled")
	}
	if c.Ledger.MaxRetries < 0 {
		return errors.New("ledger.max_retries must be >= 0")
	}
	if c.Ledger.RateLimit < 0 {
		return errors.New("ledger.rate_limit must be >= 0")
	}

	switch c.Store.Driver {
	case "leveldb":
		if c.Store.Path == "" {
			return errors.New("store.path is required for leveldb")
		}
	case "postgres":
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.driver must be leveldb or postgres, got %q", c.Store.Driver)
	}

	if c.Watch.Limit < 0 {
		return errors.New("watch.limit must be >= 0")
	}
	if c.Watch.Interval < 0 {
		return errors.New("watch.interval must be >= 0")
	}
	if c.Watch.Concurrency < 1 {
		return errors.New("watch.concurrency must be >= 1")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
