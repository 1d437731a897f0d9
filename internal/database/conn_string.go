package database

import (
	"fmt"
	"net/url"

	"github.com/jstrand/league-live/internal/config"
)

// appName identifies this service in pg_stat_activity.
const appName = "league-live"

// BuildConnString renders a postgres:// URL for pgx from the archive
// database settings. User and password are escaped so credentials with
// reserved characters survive the round trip.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	params := url.Values{}
	params.Set("sslmode", sslMode)
	params.Set("application_name", appName)

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
