package dbclient

import (
	"strings"

	_ "github.com/lib/pq"
)

// postgresDSN defaults sslmode to disable when the DSN does not set it.
// Both URL and key=value forms are accepted.
func postgresDSN(dsn string) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&sslmode=disable"
		}
		return dsn + "?sslmode=disable"
	}
	return strings.TrimSpace(dsn) + " sslmode=disable"
}
