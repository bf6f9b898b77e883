package sqlite

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:biome.db?_pragma=journal_mode(WAL)"
	//   "biome.db"
	DSN string

	// Table is the target table; "main.landcover" style names are accepted.
	Table string

	// Columns is the ordered list of destination columns.
	Columns []string
}
