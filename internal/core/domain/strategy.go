package domain

import (
	"fmt"
	"os"
	"path/filepath"
)

// BuildStrategy selects how the fetched source tree is turned into running
// containers on the target host.
type BuildStrategy string

const (
	StrategyDockerfile BuildStrategy = "dockerfile"
	StrategyCompose    BuildStrategy = "compose"
)

// composeFileNames are checked in order; the first match wins.
var composeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// DetectStrategy resolves the build strategy for a checked-out source tree.
// A compose file takes precedence over a bare Dockerfile. The returned file
// name is the matched compose file, empty for the Dockerfile strategy.
// Absence of both is a terminal configuration error.
func DetectStrategy(dir string) (BuildStrategy, string, error) {
	for _, name := range composeFileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return StrategyCompose, name, nil
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		return StrategyDockerfile, "", nil
	}
	return "", "", fmt.Errorf("%w: neither a compose file nor a Dockerfile found in %s", ErrArtifact, dir)
}
