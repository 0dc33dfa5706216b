package dbclient

import (
	"github.com/go-sql-driver/mysql"
)

// mysqlDSN makes sure DATETIME columns scan as time.Time so dates format
// consistently. A DSN the driver cannot parse is passed through unchanged
// and reported by sql.Open.
func mysqlDSN(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return dsn
	}
	cfg.ParseTime = true
	return cfg.FormatDSN()
}
