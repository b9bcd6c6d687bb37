package rsync

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// excludes keeps VCS metadata, dependency caches, and log files out of the
// remote mirror.
var excludes = []string{".git", "node_modules", "vendor", "__pycache__", "*.log"}

// Syncer mirrors the local source tree to the remote application path using
// rsync's delta transfer. It is an overwrite mirror, not a merge.
type Syncer struct {
	host       string
	port       int
	user       string
	keyPath    string
	remotePath string
	log        *zap.Logger
}

func NewSyncer(host string, port int, user, keyPath, remotePath string, log *zap.Logger) *Syncer {
	return &Syncer{host: host, port: port, user: user, keyPath: keyPath, remotePath: remotePath, log: log}
}

// Mirror copies localDir to the remote application path, deleting remote
// files that no longer exist locally.
func (s *Syncer) Mirror(ctx context.Context, localDir string) error {
	args := s.args(localDir)
	s.log.Info("mirroring source tree", zap.String("remote_path", s.remotePath))
	s.log.Debug("rsync", zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, "rsync", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Syncer) args(localDir string) []string {
	args := []string{"-az", "--delete"}
	for _, pattern := range excludes {
		args = append(args, "--exclude", pattern)
	}
	sshCmd := fmt.Sprintf("ssh -p %d -i %s -o BatchMode=yes", s.port, s.keyPath)
	args = append(args, "-e", sshCmd)
	args = append(args,
		strings.TrimSuffix(localDir, "/")+"/",
		fmt.Sprintf("%s@%s:%s/", s.user, s.host, s.remotePath),
	)
	return args
}
