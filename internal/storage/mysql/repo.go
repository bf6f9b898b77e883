// Package mysql implements a MySQL load sink on database/sql with the
// go-sql-driver/mysql driver. Each batch is written with multi-row INSERT
// statements inside one transaction.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"gdbexport/internal/ddl"
)

// maxPlaceholders stays below MySQL's 65535 prepared-statement parameter cap.
const maxPlaceholders = 60000

// Config holds MySQL repository configuration.
type Config struct {
	DSN     string // e.g. "user:pass@tcp(localhost:3306)/tiles"
	Table   string
	Columns []string
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository validates the DSN, opens a pool and pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// insertSQL renders "INSERT INTO t (a, b) VALUES (?, ?), (?, ?)" for n rows.
func insertSQL(table string, columns []string, n int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ddl.QuoteBacktick(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	values := make([]string, n)
	for i := range values {
		values[i] = tuple
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		ddl.QuoteFQN(table, ddl.QuoteBacktick),
		strings.Join(quoted, ", "),
		strings.Join(values, ", "),
	)
}

// CopyFrom inserts rows in as few statements as the placeholder limit allows,
// all inside one transaction.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("mysql: CopyFrom: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	perStmt := max(1, maxPlaceholders/len(columns))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	var total int64
	for lo := 0; lo < len(rows); lo += perStmt {
		hi := min(lo+perStmt, len(rows))
		args := make([]any, 0, (hi-lo)*len(columns))
		for i, row := range rows[lo:hi] {
			if len(row) != len(columns) {
				_ = tx.Rollback()
				return 0, fmt.Errorf("mysql: row %d length %d != columns length %d", lo+i, len(row), len(columns))
			}
			args = append(args, row...)
		}
		res, err := tx.ExecContext(ctx, insertSQL(r.cfg.Table, columns, hi-lo), args...)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("mysql: insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// Exec executes a SQL statement against the pool.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, sqlText)
	return err
}
