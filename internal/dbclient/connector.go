package dbclient

import (
	"context"
	"fmt"

	"usageexport/internal/domain"
)

// defaultFetchSize is the page size used when a caller passes zero.
const defaultFetchSize = 500

// QueryPage is one batch of rows read from an open cursor.
type QueryPage struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	TotalFetched int      `json:"totalFetched"`
	// HasMore is true when the page was full; the next page may be empty.
	HasMore bool `json:"hasMore"`
}

// Connector reads usage rows from an external database, a page at a time.
type Connector interface {
	TestConnection(ctx context.Context) error

	// Execute runs a read query and returns its first page. Any cursor
	// left open by a previous query is closed first.
	Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error)

	// FetchMore returns the next page of the open cursor.
	FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error)

	Close() error
}

// NewConnector opens a connector for conn's driver.
func NewConnector(conn *domain.DatabaseConnection) (Connector, error) {
	if conn.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", mysqlDSN(conn.DSN))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", postgresDSN(conn.DSN))
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn)
	default:
		return nil, fmt.Errorf("unsupported driver: %q", conn.Driver)
	}
}

func pageSize(n int) int {
	if n <= 0 {
		return defaultFetchSize
	}
	return n
}
