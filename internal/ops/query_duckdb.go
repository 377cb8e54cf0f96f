//go:build cgo

package ops

import (
	"database/sql"

	_ "github.com/marcboeker/go-duckdb"
)

func openDuckDB(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}
