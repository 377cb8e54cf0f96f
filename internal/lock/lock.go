package lock

import (
	"context"
	"sync"

	xerrors "OpenTask-Engine/internal/errors"
)

// Locker 对同一个 key（通常是解析后的目标路径）的写操作做互斥。
type Locker interface {
	// Acquire 阻塞直到获得锁或 ctx 结束，返回的释放函数必须且只能调用一次。
	Acquire(ctx context.Context, key string) (func(), error)
	Close() error
}

// MemoryLocker 是进程内的按 key 互斥锁，引用计数归零后回收条目。
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker 创建进程内锁。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

// Acquire 实现 Locker。
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, s)
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, ctx.Err(), "等待锁超时: "+key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
	}, nil
}

func (l *MemoryLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 && l.slots[key] == s {
		delete(l.slots, key)
	}
}

// Close 实现 Locker。
func (l *MemoryLocker) Close() error { return nil }
