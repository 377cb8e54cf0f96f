package ops

import (
	"context"
	"net/http"
	"time"

	"OpenTask-Engine/internal/lock"
	"OpenTask-Engine/internal/sandbox"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultGitTimeout   = 120 * time.Second
	defaultQueryTimeout = 60 * time.Second
	defaultMaxBodyBytes = 64 << 20
	defaultUserAgent    = "OpenTask-Engine/1.0"
	defaultMaxPixels    = 50_000_000
)

// Env 是所有内置操作共享的依赖，启动时构造一次后只读。
type Env struct {
	FS         *sandbox.FS
	Locker     lock.Locker
	HTTPClient *http.Client

	FetchTimeout time.Duration
	GitTimeout   time.Duration
	QueryTimeout time.Duration
	MaxBodyBytes int64
	UserAgent    string

	// MaxImagePixels 限制解码前声明的画布与输出尺寸的像素数。
	MaxImagePixels int64

	// GitBinary 默认为 PATH 中的 git。
	GitBinary string
	// AllowLocalRemotes 允许以本地路径或 file:// 作为仓库地址。
	AllowLocalRemotes bool

	// MySQLDSN 为 server-row 引擎的连接串，库名由任务参数覆盖。
	MySQLDSN string
}

func (e Env) withDefaults() Env {
	if e.Locker == nil {
		e.Locker = lock.NewMemoryLocker()
	}
	if e.HTTPClient == nil {
		e.HTTPClient = &http.Client{}
	}
	if e.FetchTimeout <= 0 {
		e.FetchTimeout = defaultFetchTimeout
	}
	if e.GitTimeout <= 0 {
		e.GitTimeout = defaultGitTimeout
	}
	if e.QueryTimeout <= 0 {
		e.QueryTimeout = defaultQueryTimeout
	}
	if e.MaxBodyBytes <= 0 {
		e.MaxBodyBytes = defaultMaxBodyBytes
	}
	if e.MaxImagePixels <= 0 {
		e.MaxImagePixels = defaultMaxPixels
	}
	if e.UserAgent == "" {
		e.UserAgent = defaultUserAgent
	}
	if e.GitBinary == "" {
		e.GitBinary = "git"
	}
	return e
}

// withLock 在持有目标路径锁的情况下执行 fn。
func (e Env) withLock(ctx context.Context, path string, fn func() error) error {
	release, err := e.Locker.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
