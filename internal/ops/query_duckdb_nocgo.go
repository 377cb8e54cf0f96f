//go:build !cgo

package ops

import (
	"database/sql"

	xerrors "OpenTask-Engine/internal/errors"
)

func openDuckDB(string) (*sql.DB, error) {
	return nil, xerrors.New(xerrors.CodeResourceUnavailable, "当前构建未启用 cgo，embedded-columnar 引擎不可用")
}
