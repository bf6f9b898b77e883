// This adapter registers the "mssql" backend and its DDL dialect with the
// storage package.
package mssql

import (
	"context"
	"fmt"
	"strings"

	"gdbexport/internal/ddl"
	"gdbexport/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

type wrappedRepo struct {
	*Repository
	closeFn func()
}

var _ storage.Repository = (*wrappedRepo)(nil)

func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Dialect renders SQL Server DDL. SQL Server has no CREATE TABLE IF NOT
// EXISTS, so the statement is guarded with OBJECT_ID.
var Dialect = ddl.Dialect{
	Name:         "mssql",
	Quote:        ddl.QuoteBracket,
	MapType:      MapType,
	GuardMissing: guardMissing,
}

// MapType maps logical schema types to SQL Server column types. Text is
// bounded since H3 indexes and biome names are short.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "float", "double", "real":
		return "FLOAT"
	default:
		return "NVARCHAR(64)"
	}
}

func guardMissing(fqn, create string) string {
	lit := strings.ReplaceAll(fqn, "'", "''")
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\n%s", lit, create)
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
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
	storage.RegisterDDL("mssql", Dialect)
}
