package ops

import (
	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
)

// RegisterDefaults 注册所有内置操作。调用方负责随后冻结注册表。
func RegisterDefaults(reg *engine.Registry, exec engine.Executor, env Env, plan Plan) error {
	if env.FS == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "内置操作需要受限文件系统")
	}
	// 所有操作共享同一个锁实例。
	env = env.withDefaults()
	runAll, err := NewRunAll(exec, plan)
	if err != nil {
		return err
	}
	for _, op := range []engine.Operation{
		NewFetch(env),
		NewSyncRepo(env),
		NewRunQuery(env),
		NewResizeImage(env),
		NewScrape(env),
		NewCountWeekday(env),
		NewSortContacts(env),
		runAll,
	} {
		if err := reg.Register(op); err != nil {
			return err
		}
	}
	return nil
}
