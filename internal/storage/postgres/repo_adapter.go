// This adapter wires the Postgres backend into the storage-agnostic factory by
// registering a constructor and a DDL dialect at init time. Callers obtain a
// Repository via storage.New(...) and create tables via storage.EnsureTable
// without importing this package directly.
package postgres

import (
	"context"
	"strings"

	"gdbexport/internal/ddl"
	"gdbexport/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo implements storage.Repository by delegating to the concrete
// *postgres.Repository while providing a Close method that calls the close
// function returned by NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

var _ storage.Repository = (*wrappedRepo)(nil)

// Close implements storage.Repository.Close.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Dialect renders Postgres DDL.
var Dialect = ddl.Dialect{
	Name:    "postgres",
	Quote:   ddl.QuoteDouble,
	MapType: MapType,
}

// MapType maps logical schema types to Postgres column types.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "float", "double", "real":
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:     cfg.DSN,
			Table:   cfg.Table,
			Columns: cfg.Columns,
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDDL("postgres", Dialect)
}
