package engine

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	xerrors "OpenTask-Engine/internal/errors"
)

const (
	CodeDuplicateTask  xerrors.Code = "DUPLICATE_TASK"
	CodeRegistryFrozen xerrors.Code = "REGISTRY_FROZEN"
)

var (
	// ErrDuplicateTask 表示任务名已被注册。
	ErrDuplicateTask = xerrors.New(CodeDuplicateTask, "task already registered")
	// ErrRegistryFrozen 表示启动阶段结束后仍尝试注册操作。
	ErrRegistryFrozen = xerrors.New(CodeRegistryFrozen, "registry is frozen")
)

func init() {
	xerrors.Register(CodeDuplicateTask, xerrors.Attributes{
		Message:  "task already registered",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRegistryFrozen, xerrors.Attributes{
		Message:  "registry is frozen",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Registry 维护任务名到操作的映射。只能新增，不能删除；
// Freeze 之后只读，查询不再加锁。
type Registry struct {
	mu     sync.Mutex
	ops    map[string]Operation
	frozen atomic.Bool
}

// NewRegistry 创建空的注册表。
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register 注册一个操作。重复的任务名直接报错，不做覆盖。
func (r *Registry) Register(op Operation) error {
	if op == nil {
		return xerrors.New(xerrors.CodeInvalidParams, "操作不能为空")
	}
	name := op.Descriptor().Name
	if strings.TrimSpace(name) == "" || strings.TrimSpace(name) != name {
		return xerrors.Newf(xerrors.CodeInvalidParams, "非法的任务名 %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return xerrors.Wrap(CodeRegistryFrozen, ErrRegistryFrozen, name)
	}
	if _, exists := r.ops[name]; exists {
		return xerrors.Wrap(CodeDuplicateTask, ErrDuplicateTask, name)
	}
	r.ops[name] = op
	return nil
}

// MustRegister 在启动阶段批量注册，失败时 panic。
func (r *Registry) MustRegister(ops ...Operation) {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
}

// Freeze 结束注册阶段。
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen 返回注册表是否已冻结。
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup 返回任务名对应的操作，同一任务名始终返回同一个实例。
func (r *Registry) Lookup(name string) (Operation, error) {
	var (
		op Operation
		ok bool
	)
	if r.frozen.Load() {
		op, ok = r.ops[name]
	} else {
		r.mu.Lock()
		op, ok = r.ops[name]
		r.mu.Unlock()
	}
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeUnsupportedTask, "任务 %q 不受支持", name)
	}
	return op, nil
}

// Names 返回已注册的任务名，按字母序排列。
func (r *Registry) Names() []string {
	descs := r.Descriptors()
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	return names
}

// Descriptors 返回所有操作的声明，按任务名排序。
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	descs := make([]Descriptor, 0, len(r.ops))
	for _, op := range r.ops {
		descs = append(descs, op.Descriptor())
	}
	r.mu.Unlock()
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}
