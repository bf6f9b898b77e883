package storage

import (
	"context"
	"fmt"
	"sync"

	"gdbexport/internal/ddl"
	"gdbexport/internal/schema"
)

var (
	ddlMu    sync.RWMutex
	dialects = map[string]ddl.Dialect{}
)

// RegisterDDL registers the DDL dialect of a storage kind. Backends call it
// from init().
func RegisterDDL(kind string, d ddl.Dialect) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	dialects[kind] = d
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind string) (ddl.Dialect, bool) {
	ddlMu.RLock()
	defer ddlMu.RUnlock()
	d, ok := dialects[kind]
	return d, ok
}

// EnsureTable creates table for cols through repo unless it already exists.
// Callers only pass the kind; the dialect is looked up in the registry.
func EnsureTable(ctx context.Context, kind string, repo Repository, table string, cols []schema.Column) error {
	d, ok := DialectFor(kind)
	if !ok {
		return fmt.Errorf("no DDL dialect registered for storage.kind=%q", kind)
	}
	td, err := ddl.FromColumns(table, cols, d)
	if err != nil {
		return fmt.Errorf("infer table definition: %w", err)
	}
	stmt, err := ddl.BuildCreateTableSQL(td, d)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if err := repo.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("apply DDL: %w", err)
	}
	return nil
}
