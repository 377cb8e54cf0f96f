package ops

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"OpenTask-Engine/internal/sandbox"
)

func newTestEnv(t *testing.T) Env {
	t.Helper()
	guard, err := sandbox.NewGuard(t.TempDir(), sandbox.NewPolicy())
	if err != nil {
		t.Fatalf("create guard: %v", err)
	}
	return Env{FS: sandbox.NewFS(guard)}.withDefaults()
}

// listTree 返回根目录下所有条目的相对路径。
func listTree(t *testing.T, root string) []string {
	t.Helper()
	var entries []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	sort.Strings(entries)
	return entries
}
