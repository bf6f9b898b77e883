// Package storage contains the storage-agnostic load sink contract and the
// factory backends register with.
//
// A load sink receives each resolution group after its files are written and
// bulk-inserts the group's records into one relational table. Backends
// (sqlite, postgres, mssql, mysql) register a Factory at init time; importing
// gdbexport/internal/storage/all enables all of them.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository is the minimal contract a load sink must satisfy.
type Repository interface {
	// CopyFrom bulk-inserts rows aligned to columns and returns the number of
	// rows the backend reports as inserted.
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)

	// Exec runs a statement that returns no rows (DDL).
	Exec(ctx context.Context, sql string) error

	Close()
}

// Config carries what every backend needs to open a Repository.
type Config struct {
	Kind    string
	DSN     string
	Table   string
	Columns []string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
