package ops

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

// SyncParams 是 sync-repo 的参数。
type SyncParams struct {
	RepoURL  string
	RepoName string
	Branch   string
}

var (
	scpLikeRemote = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^/]`)
	branchPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

func decodeSync(p engine.Params, allowLocal bool) (SyncParams, error) {
	repoURL, err := p.String("repoUrl")
	if err != nil {
		return SyncParams{}, err
	}
	repoName, err := p.String("repoName")
	if err != nil {
		return SyncParams{}, err
	}
	branch, err := p.OptionalString("branch", "")
	if err != nil {
		return SyncParams{}, err
	}
	if strings.HasPrefix(repoURL, "-") {
		return SyncParams{}, xerrors.Newf(xerrors.CodeInvalidParams, "非法的仓库地址 %q", repoURL)
	}
	if branch != "" && (!branchPattern.MatchString(branch) || strings.HasPrefix(branch, "-")) {
		return SyncParams{}, xerrors.Newf(xerrors.CodeInvalidParams, "非法的分支名 %q", branch)
	}
	if !isRemote(repoURL) && !allowLocal {
		return SyncParams{}, xerrors.Newf(xerrors.CodePermissionDenied, "不允许使用本地仓库地址 %q", repoURL)
	}
	return SyncParams{RepoURL: repoURL, RepoName: repoName, Branch: branch}, nil
}

func isRemote(raw string) bool {
	if scpLikeRemote.MatchString(raw) {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return u.Host != ""
	default:
		return false
	}
}

// SyncRepo 把远端仓库同步到数据目录：目录已是仓库时 fast-forward 拉取，否则克隆。
type SyncRepo struct {
	env Env
}

// NewSyncRepo 创建 sync-repo 操作。
func NewSyncRepo(env Env) *SyncRepo {
	return &SyncRepo{env: env.withDefaults()}
}

// Descriptor 实现 engine.Operation。
func (s *SyncRepo) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         "sync-repo",
		Summary:      "Clone a git repository under the data root, or fast-forward pull when it already exists",
		Required:     []string{"repoUrl", "repoName"},
		Optional:     []string{"branch"},
		Idempotent:   true,
		Capabilities: []engine.Capability{engine.CapabilityNetwork, engine.CapabilityFilesystem, engine.CapabilityExecution},
	}
}

// Run 实现 engine.Operation。
func (s *SyncRepo) Run(ctx context.Context, params engine.Params) (*engine.Result, error) {
	p, err := decodeSync(params, s.env.AllowLocalRemotes)
	if err != nil {
		return nil, err
	}
	target, err := s.env.FS.Resolve(p.RepoName)
	if err != nil {
		return nil, err
	}
	if target == s.env.FS.Root() {
		return nil, xerrors.New(xerrors.CodeInvalidParams, "repoName 不能指向数据根目录")
	}
	gitBin, err := exec.LookPath(s.env.GitBinary)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "未找到 git 可执行文件")
	}

	ctx, cancel := context.WithTimeout(ctx, s.env.GitTimeout)
	defer cancel()

	var result *engine.Result
	err = s.env.withLock(ctx, target, func() error {
		var syncErr error
		result, syncErr = s.sync(ctx, gitBin, target, p)
		return syncErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SyncRepo) sync(ctx context.Context, gitBin, target string, p SyncParams) (*engine.Result, error) {
	log := logger.Named("ops").With(slog.String("task", "sync-repo"), slog.String("path", target))

	isRepo, err := s.env.FS.Exists(filepath.Join(target, ".git"))
	if err != nil {
		return nil, err
	}
	if isRepo {
		args := []string{"-C", target, "pull", "--ff-only"}
		if p.Branch != "" {
			args = append(args, "origin", p.Branch)
		}
		if _, err := runGit(ctx, gitBin, args...); err != nil {
			return nil, err
		}
		log.Info("仓库已存在，已拉取最新提交")
		return &engine.Result{
			Message: fmt.Sprintf("Repo already exists. Pulled latest changes in %s", target),
			Output:  map[string]any{"path": target, "action": "pull"},
		}, nil
	}

	empty, err := s.emptyOrAbsent(target)
	if err != nil {
		return nil, err
	}
	if !empty {
		return nil, xerrors.Newf(xerrors.CodeOperationFailed, "目录 %s 已存在且不是 git 仓库", target)
	}
	if _, err := s.env.FS.MkdirAll(filepath.Dir(target)); err != nil {
		return nil, err
	}
	args := []string{"clone"}
	if p.Branch != "" {
		args = append(args, "--branch", p.Branch)
	}
	args = append(args, "--", p.RepoURL, target)
	if _, err := runGit(ctx, gitBin, args...); err != nil {
		return nil, err
	}
	log.Info("仓库已克隆", slog.String("remote", p.RepoURL))
	return &engine.Result{
		Message: fmt.Sprintf("Repo cloned to %s", target),
		Output:  map[string]any{"path": target, "action": "clone"},
	}, nil
}

func (s *SyncRepo) emptyOrAbsent(dir string) (bool, error) {
	info, err := s.env.FS.Stat(dir)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeNotFound) {
			return true, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	f, err := s.env.FS.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	switch {
	case stdErrors.Is(err, io.EOF):
		return true, nil
	case stdErrors.Is(err, os.ErrPermission):
		return false, xerrors.Wrap(xerrors.CodePermissionDenied, err, "读取目录失败: "+dir)
	case err != nil:
		return false, xerrors.Wrap(xerrors.CodeOperationFailed, err, "读取目录失败: "+dir)
	}
	return len(names) == 0, nil
}

func runGit(ctx context.Context, gitBin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, gitBin, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=true", "LC_ALL=C")
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, xerrors.Wrap(xerrors.CodeResourceUnavailable, ctx.Err(), "git 操作超时: "+out)
	}
	return out, classifyGitFailure(err, out)
}

var unavailableMarkers = []string{
	"could not resolve host",
	"could not read from remote repository",
	"authentication failed",
	"permission denied (publickey",
	"repository not found",
	"connection refused",
	"connection timed out",
	"operation timed out",
	"unable to access",
	"network is unreachable",
	"terminal prompts disabled",
	"does not appear to be a git repository",
	"does not exist",
}

var conflictMarkers = []string{
	"not possible to fast-forward",
	"diverging branches",
	"conflict",
	"would be overwritten",
	"unmerged",
	"refusing to merge",
}

// classifyGitFailure 按 git 的输出区分远端不可用与本地无法合并。
func classifyGitFailure(err error, output string) error {
	lower := strings.ToLower(output)
	for _, marker := range conflictMarkers {
		if strings.Contains(lower, marker) {
			return xerrors.Wrap(xerrors.CodeOperationFailed, err, "git 无法合并: "+output)
		}
	}
	for _, marker := range unavailableMarkers {
		if strings.Contains(lower, marker) {
			return xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "git 远端不可用: "+output)
		}
	}
	var exitErr *exec.ExitError
	if !stdErrors.As(err, &exitErr) {
		return xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "无法执行 git")
	}
	return xerrors.Wrap(xerrors.CodeOperationFailed, err, "git 执行失败: "+output)
}
