package sandbox

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	xerrors "OpenTask-Engine/internal/errors"
)

// maxLinkHops 限制解析悬空符号链接时的跳转次数。
const maxLinkHops = 40

// Guard 负责把请求路径解析为数据根目录内的绝对路径。
type Guard struct {
	root   string
	policy *Policy
}

// NewGuard 以 root 为沙箱根目录创建 Guard。root 必须是已存在的目录。
// policy 为空时使用进程级策略。
func NewGuard(root string, policy *Policy) (*Guard, error) {
	if strings.TrimSpace(root) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "沙箱根目录不能为空")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析沙箱根目录失败")
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析沙箱根目录失败")
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取沙箱根目录失败")
	}
	if !info.IsDir() {
		return nil, xerrors.Newf(xerrors.CodeInitializationFailure, "沙箱根目录 %s 不是目录", resolved)
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Guard{root: resolved, policy: policy}, nil
}

// Root 返回解析后的根目录。
func (g *Guard) Root() string {
	return g.root
}

// Policy 返回 Guard 使用的删除策略。
func (g *Guard) Policy() *Policy {
	return g.policy
}

// Validate 解析 raw 并确认其位于根目录之内。相对路径以根目录为基准；
// 已存在的前缀会解析符号链接，不存在的尾部原样拼接。
func (g *Guard) Validate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", xerrors.New(xerrors.CodeInvalidParams, "路径不能为空")
	}
	if strings.ContainsRune(raw, 0) {
		return "", xerrors.New(xerrors.CodeInvalidParams, "路径包含非法字符")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(g.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolvePath(candidate, 0)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodePermissionDenied, err, fmt.Sprintf("无法解析路径 %s", raw))
	}
	if !within(g.root, resolved) {
		return "", xerrors.New(xerrors.CodePermissionDenied,
			fmt.Sprintf("路径 %s 超出数据目录 %s", raw, g.root),
			xerrors.WithMetadata("path", raw))
	}
	return resolved, nil
}

// resolvePath 解析最长的已存在前缀，并处理悬空的符号链接。
func resolvePath(path string, hops int) (string, error) {
	if hops > maxLinkHops {
		return "", fmt.Errorf("符号链接层级过深: %s", path)
	}
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !stdErrors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			target, rerr := os.Readlink(current)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(current), target)
			}
			return resolvePath(filepath.Join(append([]string{target}, tail...)...), hops+1)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
