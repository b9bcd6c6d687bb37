package compose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/ports"
)

// composeFileCandidates mirrors the detection order used when the strategy
// was resolved; teardown scans them because it runs without a checkout.
var composeFileCandidates = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// Deployer implements the multi-service strategy by driving the orchestrator
// CLI on the target host against the synced source tree. Port exposure is
// whatever the service definition declares; the proxy still targets the
// loopback port from the deployment config.
type Deployer struct {
	runner      ports.RemoteRunner
	remotePath  string
	project     string
	composeFile string
	log         *zap.Logger
}

func NewDeployer(runner ports.RemoteRunner, remotePath, project, composeFile string, log *zap.Logger) *Deployer {
	return &Deployer{runner: runner, remotePath: remotePath, project: project, composeFile: composeFile, log: log}
}

// Deploy tears down any prior project instance and rebuilds and starts the
// services in detached mode. The build runs remotely against the mirror, so
// repoDir is unused here.
func (d *Deployer) Deploy(ctx context.Context, repoDir string) error {
	// Best effort: a first deploy has nothing to bring down.
	_, _ = d.runner.Run(ctx, d.compose("down --remove-orphans")+" || true")

	d.log.Info("starting compose project", zap.String("project", d.project))
	if _, err := d.runner.Run(ctx, d.compose("up -d --build")); err != nil {
		return fmt.Errorf("%w: compose up: %v", domain.ErrDeploy, err)
	}
	return nil
}

// Validate asserts that at least one service container of the project is
// running and reports the first one.
func (d *Deployer) Validate(ctx context.Context) (domain.Container, error) {
	out, err := d.runner.Run(ctx, d.compose("ps --status running --quiet"))
	if err != nil {
		return domain.Container{}, fmt.Errorf("%w: compose ps: %v", domain.ErrValidation, err)
	}
	ids := strings.Fields(out.Stdout)
	if len(ids) == 0 {
		return domain.Container{}, fmt.Errorf("%w: no running service in project %s", domain.ErrValidation, d.project)
	}
	id := ids[0]
	if len(id) > 12 {
		id = id[:12]
	}
	return domain.Container{ID: id, Name: d.project, State: "running"}, nil
}

// Logs returns the last tail lines across all project services.
func (d *Deployer) Logs(ctx context.Context, tail int) (string, error) {
	out, err := d.runner.Run(ctx, d.compose(fmt.Sprintf("logs --no-color --tail %d", tail)))
	if err != nil {
		return "", fmt.Errorf("compose logs: %w", err)
	}
	return out.Stdout, nil
}

// Remove brings the project down. Without a known compose file (the teardown
// path) every candidate present in the remote tree is tried.
func (d *Deployer) Remove(ctx context.Context) error {
	if d.composeFile != "" {
		if _, err := d.runner.Run(ctx, d.compose("down --remove-orphans")); err != nil {
			return fmt.Errorf("compose down: %w", err)
		}
		return nil
	}
	cmd := fmt.Sprintf("cd %s 2>/dev/null || exit 0; for f in %s; do [ -f \"$f\" ] && docker compose -f \"$f\" -p %s down --remove-orphans; done; true",
		d.remotePath, strings.Join(composeFileCandidates, " "), d.project)
	if _, err := d.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("compose down: %w", err)
	}
	return nil
}

func (d *Deployer) compose(args string) string {
	return fmt.Sprintf("cd %s && docker compose -f %s -p %s %s", d.remotePath, d.composeFile, d.project, args)
}
