package ops

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

// QueryEngine 表示 run-query 支持的数据库引擎。
type QueryEngine string

const (
	EngineEmbeddedRow      QueryEngine = "embedded-row"
	EngineEmbeddedColumnar QueryEngine = "embedded-columnar"
	EngineServerRow        QueryEngine = "server-row"
)

// QueryParams 是 run-query 的参数。
type QueryParams struct {
	DBName string
	Query  string
	Engine QueryEngine
}

// QueryOutput 是查询结果，[]byte 列已转换为字符串。
type QueryOutput struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func decodeQuery(p engine.Params) (QueryParams, error) {
	dbName, err := p.String("dbName")
	if err != nil {
		return QueryParams{}, err
	}
	query, err := p.String("query")
	if err != nil {
		return QueryParams{}, err
	}
	name, err := p.String("engine")
	if err != nil {
		return QueryParams{}, err
	}
	eng := QueryEngine(name)
	switch eng {
	case EngineEmbeddedRow, EngineEmbeddedColumnar, EngineServerRow:
	default:
		return QueryParams{}, xerrors.Newf(xerrors.CodeInvalidParams, "不支持的数据库引擎 %q", name)
	}
	return QueryParams{DBName: dbName, Query: query, Engine: eng}, nil
}

// RunQuery 在指定引擎上执行一条 SQL 语句并返回结果集。
type RunQuery struct {
	env Env
}

// NewRunQuery 创建 run-query 操作。
func NewRunQuery(env Env) *RunQuery {
	return &RunQuery{env: env.withDefaults()}
}

// Descriptor 实现 engine.Operation。是否幂等取决于语句本身，这里按非幂等声明。
func (q *RunQuery) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         "run-query",
		Summary:      "Execute a SQL statement on an embedded-row, embedded-columnar or server-row engine",
		Required:     []string{"dbName", "query", "engine"},
		Idempotent:   false,
		Capabilities: []engine.Capability{engine.CapabilityDatabase, engine.CapabilityFilesystem},
	}
}

// Run 实现 engine.Operation。
func (q *RunQuery) Run(ctx context.Context, params engine.Params) (*engine.Result, error) {
	p, err := decodeQuery(params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, q.env.QueryTimeout)
	defer cancel()

	var out *QueryOutput
	switch p.Engine {
	case EngineServerRow:
		db, err := q.openMySQL(p.DBName)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		out, err = execute(ctx, db, p.Query)
		if err != nil {
			return nil, err
		}
	default:
		path, err := q.env.FS.Resolve(p.DBName)
		if err != nil {
			return nil, err
		}
		err = q.env.withLock(ctx, path, func() error {
			if _, err := q.env.FS.MkdirAll(filepath.Dir(path)); err != nil {
				return err
			}
			db, err := q.openEmbedded(p.Engine, path)
			if err != nil {
				return err
			}
			defer db.Close()
			out, err = execute(ctx, db, p.Query)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Named("ops").Info("SQL 已执行",
		slog.String("task", "run-query"),
		slog.String("engine", string(p.Engine)),
		slog.String("db", p.DBName),
		slog.Int("rows", len(out.Rows)),
	)
	return &engine.Result{
		Message: fmt.Sprintf("SQL query executed: %s -> %v", p.Query, out.Rows),
		Output:  out,
	}, nil
}

func (q *RunQuery) openEmbedded(eng QueryEngine, path string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	if eng == EngineEmbeddedColumnar {
		db, err = openDuckDB(path)
	} else {
		db, err = sql.Open("sqlite", path)
	}
	if err != nil {
		if _, typed := xerrors.From(err); typed {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "打开数据库失败: "+path)
	}
	// 嵌入式引擎对同一文件只保留一个连接。
	db.SetMaxOpenConns(1)
	return db, nil
}

func (q *RunQuery) openMySQL(dbName string) (*sql.DB, error) {
	if strings.TrimSpace(q.env.MySQLDSN) == "" {
		return nil, xerrors.New(xerrors.CodeResourceUnavailable, "未配置 MySQL DSN")
	}
	cfg, err := mysql.ParseDSN(q.env.MySQLDSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "解析 MySQL DSN 失败")
	}
	cfg.DBName = dbName
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "创建 MySQL 连接失败")
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Minute)
	return db, nil
}

func execute(ctx context.Context, db *sql.DB, query string) (*QueryOutput, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "连接数据库失败")
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, queryFailure(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, queryFailure(ctx, err)
	}
	out := &QueryOutput{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, queryFailure(ctx, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailure(ctx, err)
	}
	return out, nil
}

func queryFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "查询超时")
	}
	return xerrors.Wrap(xerrors.CodeOperationFailed, err, "执行 SQL 失败")
}
