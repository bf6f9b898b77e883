// Package all wires all built-in load sinks into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories and DDL dialects with the storage package. The following
// storage kinds become available:
//
//   - "postgres" (gdbexport/internal/storage/postgres)
//   - "mssql"    (gdbexport/internal/storage/mssql)
//   - "mysql"    (gdbexport/internal/storage/mysql)
//   - "sqlite"   (gdbexport/internal/storage/sqlite)
//
// A binary that needs only a subset can import the backends it wants instead.
package all

import (
	_ "gdbexport/internal/storage/mssql"
	_ "gdbexport/internal/storage/mysql"
	_ "gdbexport/internal/storage/postgres"
	_ "gdbexport/internal/storage/sqlite"
)
