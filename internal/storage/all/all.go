// Package all registers every warehouse backend and the SQL Server driver.
//
// Entrypoints blank-import it so storage.Open can resolve any configured kind.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "fuelsync/internal/storage/mssql"
	_ "fuelsync/internal/storage/postgres"
	_ "fuelsync/internal/storage/sqlite"
)
