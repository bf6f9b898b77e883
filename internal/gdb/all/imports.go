// Package all enables every built-in gdb backend. Import it for side effects:
//
//	import _ "gdbexport/internal/gdb/all"
//
// Backends and their detection rank:
//
//   - "gpkg"     GeoPackage/SQLite file (10)
//   - "postgis"  postgres:// DSN (20)
//   - "layerdir" directory of .csv/.jsonl/.parquet layers (30)
package all

import (
	_ "gdbexport/internal/gdb/gpkg"
	_ "gdbexport/internal/gdb/layerdir"
	_ "gdbexport/internal/gdb/postgis"
)
