package sandbox

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	xerrors "OpenTask-Engine/internal/errors"
)

// partialSuffix 标记写入中的暂存文件。暂存文件名是确定的，
// 失败后重试会覆盖同一个文件，而不会产生新的残留。
const partialSuffix = ".partial"

// FS 是注入给每个操作的受限文件系统：所有路径都经过 Guard 校验，
// 删除类调用在策略启用后一律拒绝。
type FS struct {
	guard *Guard
}

// NewFS 基于 Guard 创建受限文件系统。
func NewFS(guard *Guard) *FS {
	return &FS{guard: guard}
}

// Guard 返回底层的路径校验器。
func (f *FS) Guard() *Guard {
	return f.guard
}

// Root 返回数据根目录。
func (f *FS) Root() string {
	return f.guard.Root()
}

// Resolve 校验并返回 raw 对应的绝对路径。
func (f *FS) Resolve(raw string) (string, error) {
	return f.guard.Validate(raw)
}

// ReadFile 读取根目录内的文件。
func (f *FS) ReadFile(raw string) ([]byte, error) {
	path, err := f.guard.Validate(raw)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioFailure(err, "读取文件", raw)
	}
	return data, nil
}

// Open 以只读方式打开根目录内的文件。
func (f *FS) Open(raw string) (*os.File, error) {
	path, err := f.guard.Validate(raw)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, ioFailure(err, "打开文件", raw)
	}
	return file, nil
}

// Stat 返回根目录内路径的元信息。
func (f *FS) Stat(raw string) (fs.FileInfo, error) {
	path, err := f.guard.Validate(raw)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, ioFailure(err, "读取文件信息", raw)
	}
	return info, nil
}

// Exists 判断路径是否存在，不存在并不视为错误。
func (f *FS) Exists(raw string) (bool, error) {
	_, err := f.Stat(raw)
	if err == nil {
		return true, nil
	}
	if xerrors.HasCode(err, xerrors.CodeNotFound) {
		return false, nil
	}
	return false, err
}

// MkdirAll 在根目录内创建目录。
func (f *FS) MkdirAll(raw string) (string, error) {
	path, err := f.guard.Validate(raw)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", ioFailure(err, "创建目录", raw)
	}
	return path, nil
}

// WriteFile 以覆盖方式写入文件，返回最终路径。
func (f *FS) WriteFile(raw string, data []byte) (string, error) {
	path, _, err := f.WriteFrom(raw, bytes.NewReader(data))
	return path, err
}

// WriteFrom 把 r 的内容先写入同目录的暂存文件，再原子替换目标文件。
// 返回最终路径与写入字节数。
func (f *FS) WriteFrom(raw string, r io.Reader) (string, int64, error) {
	path, err := f.guard.Validate(raw)
	if err != nil {
		return "", 0, err
	}
	dir := filepath.Dir(path)
	if _, err := f.MkdirAll(dir); err != nil {
		return "", 0, err
	}
	staging, err := f.guard.Validate(filepath.Join(dir, "."+filepath.Base(path)+partialSuffix))
	if err != nil {
		return "", 0, err
	}

	file, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, ioFailure(err, "创建暂存文件", raw)
	}
	written, copyErr := io.Copy(file, r)
	if copyErr == nil {
		copyErr = file.Sync()
	}
	closeErr := file.Close()
	if copyErr != nil {
		return "", written, xerrors.Wrap(xerrors.CodeOperationFailed, copyErr, fmt.Sprintf("写入 %s 失败", raw))
	}
	if closeErr != nil {
		return "", written, ioFailure(closeErr, "关闭暂存文件", raw)
	}
	if err := os.Rename(staging, path); err != nil {
		return "", written, ioFailure(err, "替换目标文件", raw)
	}
	return path, written, nil
}

// Remove 删除单个文件。删除禁令启用后无条件返回 PERMISSION_DENIED。
func (f *FS) Remove(raw string) error {
	if f.guard.Policy().DeletionForbidden() {
		return deletionDenied(raw)
	}
	path, err := f.guard.Validate(raw)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return ioFailure(err, "删除文件", raw)
	}
	return nil
}

// RemoveAll 递归删除目录。删除禁令启用后无条件返回 PERMISSION_DENIED。
func (f *FS) RemoveAll(raw string) error {
	if f.guard.Policy().DeletionForbidden() {
		return deletionDenied(raw)
	}
	path, err := f.guard.Validate(raw)
	if err != nil {
		return err
	}
	if path == f.guard.Root() {
		return xerrors.New(xerrors.CodePermissionDenied, "不允许删除数据根目录")
	}
	if err := os.RemoveAll(path); err != nil {
		return ioFailure(err, "删除目录", raw)
	}
	return nil
}

func deletionDenied(raw string) error {
	return xerrors.New(xerrors.CodePermissionDenied, "不允许删除文件",
		xerrors.WithMetadata("path", raw))
}

// ioFailure 将系统调用错误映射为引擎错误码。
func ioFailure(err error, action, raw string) error {
	message := fmt.Sprintf("%s %s 失败", action, raw)
	switch {
	case stdErrors.Is(err, fs.ErrNotExist):
		return xerrors.Wrap(xerrors.CodeNotFound, err, message)
	case stdErrors.Is(err, fs.ErrPermission):
		return xerrors.Wrap(xerrors.CodePermissionDenied, err, message)
	default:
		return xerrors.Wrap(xerrors.CodeOperationFailed, err, message)
	}
}
