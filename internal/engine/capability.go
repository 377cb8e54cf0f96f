package engine

import (
	"slices"

	xerrors "OpenTask-Engine/internal/errors"
)

// CapabilityPolicy 限制哪些资源类别的操作可以被执行。
// Allowed 为空表示不做白名单限制；Denied 总是优先生效。
type CapabilityPolicy struct {
	Allowed []Capability
	Denied  []Capability
}

// Validate 检查操作声明的能力是否被允许。
func (p CapabilityPolicy) Validate(desc Descriptor) error {
	for _, capability := range p.Denied {
		if slices.Contains(desc.Capabilities, capability) {
			return xerrors.Newf(xerrors.CodePermissionDenied, "任务 %s 需要的能力 %s 已被禁用", desc.Name, capability)
		}
	}
	if len(p.Allowed) == 0 {
		return nil
	}
	for _, capability := range desc.Capabilities {
		if !slices.Contains(p.Allowed, capability) {
			return xerrors.Newf(xerrors.CodePermissionDenied, "任务 %s 需要的能力 %s 未被允许", desc.Name, capability)
		}
	}
	return nil
}

// ParseCapabilities 把配置中的字符串转换为能力列表。
func ParseCapabilities(values []string) []Capability {
	if len(values) == 0 {
		return nil
	}
	out := make([]Capability, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		out = append(out, Capability(v))
	}
	return out
}
