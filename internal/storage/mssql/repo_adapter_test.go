package mssql

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"gdbexport/internal/ddl"
	"gdbexport/internal/schema"
	"gdbexport/internal/storage"
)

func TestAdapter_PropagatesConstructorError(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	boom := errors.New("boom")
	var got Config
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		got = cfg
		return nil, nil, boom
	}

	_, err := storage.New(context.Background(), storage.Config{
		Kind: "mssql", DSN: "sqlserver://sa:pw@localhost:1433?database=tiles", Table: "dbo.zonal_stats",
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got.Table != "dbo.zonal_stats" {
		t.Fatalf("Table = %q", got.Table)
	}
}

func TestAdapter_WrapsAndCloses(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	closed := false
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		return &Repository{cfg: cfg}, func() { closed = true }, nil
	}
	repo, err := storage.New(context.Background(), storage.Config{Kind: "mssql", DSN: "x", Table: "t"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	repo.Close()
	if !closed {
		t.Fatalf("Close did not call closeFn")
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{DSN: "sqlserver://%zz"}); err == nil {
		t.Fatalf("expected DSN parse error")
	}
}

func TestDialect_GuardedCreate(t *testing.T) {
	t.Parallel()

	d, ok := storage.DialectFor("mssql")
	if !ok {
		t.Fatalf("mssql dialect not registered")
	}
	td, err := ddl.FromColumns("dbo.tile_biomes", schema.LandcoverColumns, d)
	if err != nil {
		t.Fatalf("FromColumns: %v", err)
	}
	sql, err := ddl.BuildCreateTableSQL(td, d)
	if err != nil {
		t.Fatalf("BuildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'dbo.tile_biomes', N'U') IS NULL\nCREATE TABLE [dbo].[tile_biomes]",
		"[h3] NVARCHAR(64) NOT NULL",
		"[code] BIGINT",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("DDL missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "IF NOT EXISTS") {
		t.Errorf("unexpected IF NOT EXISTS:\n%s", sql)
	}
}

func TestGuardMissing_EscapesQuotes(t *testing.T) {
	t.Parallel()

	got := guardMissing("dbo.o'brien", "CREATE TABLE x (a INT)")
	if !strings.Contains(got, "N'dbo.o''brien'") {
		t.Fatalf("guard = %q", got)
	}
}

// TestCopyFrom_Integration runs only when TEST_MSSQL_DSN is set.
func TestCopyFrom_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_MSSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MSSQL_DSN not set; skipping integration test")
	}
	ctx := context.Background()
	table := "dbo.gdbexport_it_landcover"
	cols := schema.Names(schema.LandcoverColumns)
	repo, err := storage.New(ctx, storage.Config{Kind: "mssql", DSN: dsn, Table: table, Columns: cols})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer repo.Close()

	_ = repo.Exec(ctx, "DROP TABLE IF EXISTS [dbo].[gdbexport_it_landcover]")
	if err := storage.EnsureTable(ctx, "mssql", repo, table, schema.LandcoverColumns); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	defer func() { _ = repo.Exec(ctx, "DROP TABLE IF EXISTS [dbo].[gdbexport_it_landcover]") }()

	n, err := repo.CopyFrom(ctx, cols, [][]any{
		schema.LandcoverRecord{H3: "85283473fffffff", Code: 111, Biome: "forest"}.Values(),
	})
	if err != nil || n != 1 {
		t.Fatalf("CopyFrom n=%d err=%v", n, err)
	}
}
