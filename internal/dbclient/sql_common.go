package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// readPrefixes are the statement keywords accepted by the SQL connectors.
var readPrefixes = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN", "PRAGMA"}

// isReadQuery reports whether query starts with a read-only keyword.
func isReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, p := range readPrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	return false
}

// sqlConnector reads usage rows from MySQL, Postgres or SQLite.
type sqlConnector struct {
	driver string
	db     *sql.DB

	mu  sync.Mutex
	cur *sqlCursor
}

// sqlCursor is one open result set. Its context lives until close.
type sqlCursor struct {
	rows    *sql.Rows
	cancel  context.CancelFunc
	columns []string
	fetched int
}

func newSQLConnector(driver, dsn string) (*sqlConnector, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)
	return &sqlConnector{driver: driver, db: db}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

func (c *sqlConnector) Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	if !isReadQuery(query) {
		return nil, fmt.Errorf("only read queries can be exported")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCursorLocked()

	qctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	rows, err := c.db.QueryContext(qctx, query)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, fmt.Errorf("columns: %w", err)
	}

	c.cur = &sqlCursor{rows: rows, cancel: cancel, columns: cols}
	return c.nextLocked(fetchSize)
}

func (c *sqlConnector) FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil, fmt.Errorf("no active cursor, execute a query first")
	}
	return c.nextLocked(fetchSize)
}

// nextLocked reads the next page and drops the cursor once it is drained
// or fails.
func (c *sqlConnector) nextLocked(fetchSize int) (*QueryPage, error) {
	page, err := c.cur.next(pageSize(fetchSize))
	if err != nil || !page.HasMore {
		c.closeCursorLocked()
	}
	return page, err
}

func (cur *sqlCursor) next(n int) (*QueryPage, error) {
	page := &QueryPage{Columns: cur.columns}
	for len(page.Rows) < n && cur.rows.Next() {
		dest := make([]any, len(cur.columns))
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := cur.rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range dest {
			dest[i] = formatValue(v)
		}
		page.Rows = append(page.Rows, dest)
	}
	if err := cur.rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}

	cur.fetched += len(page.Rows)
	page.TotalFetched = cur.fetched
	page.HasMore = len(page.Rows) == n
	return page, nil
}

func (cur *sqlCursor) close() {
	cur.rows.Close()
	cur.cancel()
}

// formatValue turns driver values into values the CSV formatter understands.
func formatValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}

func (c *sqlConnector) Close() error {
	c.mu.Lock()
	c.closeCursorLocked()
	c.mu.Unlock()
	return c.db.Close()
}

func (c *sqlConnector) closeCursorLocked() {
	if c.cur != nil {
		c.cur.close()
		c.cur = nil
	}
}
