package sources

import (
	"context"
	"fmt"
	"strconv"

	"usageexport/internal/dbclient"
	"usageexport/internal/domain"
	"usageexport/internal/etl"
)

// fetchSize is the default number of rows pulled per page.
const fetchSize = 500

// newConnector is swapped in tests.
var newConnector = dbclient.NewConnector

// database runs one read query against SQLite, MySQL, PostgreSQL or MongoDB
// and pages through the result. NULL columns are left out of the record.
type database struct{}

func init() { etl.RegisterSource(database{}) }

func (database) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []etl.ConfigField{
			{Key: "driver", Label: "Driver", Type: "select", Required: true, Options: []string{"sqlite", "mysql", "postgres", "mongodb"}},
			{Key: "dsn", Label: "DSN", Type: "string", Required: true, Help: "File path for sqlite, driver DSN for mysql/postgres, mongodb:// URI for mongodb"},
			{Key: "database", Label: "Database", Type: "string", Help: "MongoDB database when the URI names none"},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: `A SELECT, or for MongoDB a JSON query like {"collection": "sessions", "filter": {...}}`},
			{Key: "fetchSize", Label: "Fetch Size", Type: "string", Default: strconv.Itoa(fetchSize)},
		},
	}
}

type dbQuery struct {
	conn  *domain.DatabaseConnection
	text  string
	batch int
}

func parseDBQuery(cfg etl.SourceConfig) (*dbQuery, error) {
	q := &dbQuery{
		conn: &domain.DatabaseConnection{
			Driver:   domain.DatabaseDriver(cfg.String("driver")),
			DSN:      cfg.String("dsn"),
			Database: cfg.String("database"),
		},
		text:  cfg.String("query"),
		batch: fetchSize,
	}
	if q.conn.Driver == "" || q.conn.DSN == "" || q.text == "" {
		return nil, fmt.Errorf("driver, dsn and query are required")
	}
	if raw := etl.FormatCell(cfg.Get("fetchSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("fetchSize must be a positive integer, got %q", raw)
		}
		q.batch = n
	}
	return q, nil
}

func (database) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	q, err := parseDBQuery(cfg)
	if err != nil {
		return nil, err
	}
	c, err := newConnector(q.conn)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	page, err := c.Execute(ctx, q.text, 1)
	if err != nil {
		return nil, err
	}
	fields := make([]etl.Field, 0, len(page.Columns))
	for _, col := range page.Columns {
		fields = append(fields, etl.Field{Name: col, Type: "text"})
	}
	return &etl.Schema{Fields: fields}, nil
}

func (database) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		if err := streamQuery(ctx, cfg, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// streamQuery sends every row of the query to out. It returns nil when ctx
// ends first; the caller reports ctx.Err.
func streamQuery(ctx context.Context, cfg etl.SourceConfig, out chan<- etl.Record) error {
	q, err := parseDBQuery(cfg)
	if err != nil {
		return err
	}
	c, err := newConnector(q.conn)
	if err != nil {
		return err
	}
	defer c.Close()

	page, err := c.Execute(ctx, q.text, q.batch)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	for {
		if !sendRows(ctx, out, page) {
			return nil
		}
		if !page.HasMore {
			return nil
		}
		page, err = c.FetchMore(ctx, q.batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch more: %w", err)
		}
	}
}

func sendRows(ctx context.Context, out chan<- etl.Record, page *dbclient.QueryPage) bool {
	for _, row := range page.Rows {
		data := make(map[string]any, len(page.Columns))
		for i, v := range row {
			if i < len(page.Columns) && v != nil {
				data[page.Columns[i]] = v
			}
		}
		select {
		case out <- etl.Record{Data: data}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
