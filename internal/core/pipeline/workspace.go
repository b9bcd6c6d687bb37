package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the scratch directory holding the fetched source tree for a
// single run. The path is process-scoped so concurrent invocations cannot
// collide.
type Workspace struct {
	Root    string
	RepoDir string
}

func newWorkspace(baseDir string) (*Workspace, error) {
	root := filepath.Join(baseDir, fmt.Sprintf("dockhand-%d", os.Getpid()))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Root: root, RepoDir: filepath.Join(root, "src")}, nil
}

// Remove deletes the scratch directory. Called unconditionally at
// end-of-run, success or error.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Root)
}
