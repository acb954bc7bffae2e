package store

import (
	"fmt"
	"net/url"

	"github.com/rickgao/market-replica/internal/config"
)

// applicationName tags replica connections in pg_stat_activity.
const applicationName = "market-replica"

// BuildConnString builds a PostgreSQL connection string for the market store.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	params := url.Values{}
	params.Set("sslmode", sslMode)
	params.Set("application_name", applicationName)

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		params.Encode(),
	)
}
