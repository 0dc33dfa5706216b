package domain

// DatabaseDriver represents the type of database engine a source reads from.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// DatabaseConnection holds what a connector needs to reach a database.
// For SQL drivers DSN is the driver's data source name; for MongoDB it is
// the connection URI.
type DatabaseConnection struct {
	Driver   DatabaseDriver `json:"driver"`
	DSN      string         `json:"dsn"`
	Database string         `json:"database,omitempty"` // MongoDB database name
}
