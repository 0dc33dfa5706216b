package dbclient

import (
	"strings"

	"usageexport/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector creates a connector for an SQLite file.
// Opens with a busy timeout so an app writing the file does not fail the read.
func newSQLiteConnector(conn *domain.DatabaseConnection) (*sqlConnector, error) {
	dsn := conn.DSN
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	return newSQLConnector("sqlite", dsn)
}
