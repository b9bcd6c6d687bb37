package provision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/adapters/sshx"
	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/ports"
)

// component is one install-if-missing unit: check exits 0 when the component
// is already present, otherwise install runs under strict error propagation.
type component struct {
	name    string
	check   string
	install string
}

var components = []component{
	{
		name:    "docker",
		check:   "command -v docker",
		install: "DEBIAN_FRONTEND=noninteractive apt-get install -y -q docker.io",
	},
	{
		name:    "docker compose",
		check:   "docker compose version",
		install: "DEBIAN_FRONTEND=noninteractive apt-get install -y -q docker-compose-plugin",
	},
	{
		name:    "nginx",
		check:   "command -v nginx",
		install: "DEBIAN_FRONTEND=noninteractive apt-get install -y -q nginx",
	},
}

// Provisioner brings the target host to a deployable state. Every step is
// idempotent: already-installed components are detected and skipped.
type Provisioner struct {
	runner  ports.RemoteRunner
	user    string
	appPath string
	sudo    bool
	log     *zap.Logger
}

func NewProvisioner(runner ports.RemoteRunner, user, appPath string, sudo bool, log *zap.Logger) *Provisioner {
	return &Provisioner{runner: runner, user: user, appPath: appPath, sudo: sudo, log: log}
}

// EnsureRuntime updates the package index, installs prerequisites and the
// missing components, enables the services for start-on-boot, grants the
// deploying user access to the container runtime, and creates the remote
// application directory the file sync will mirror into.
func (p *Provisioner) EnsureRuntime(ctx context.Context) error {
	if err := p.run(ctx, "apt-get update -q"); err != nil {
		return err
	}
	if err := p.run(ctx, "DEBIAN_FRONTEND=noninteractive apt-get install -y -q ca-certificates curl rsync"); err != nil {
		return err
	}

	for _, c := range components {
		if _, err := p.runner.Run(ctx, c.check); err == nil {
			p.log.Info("component already installed", zap.String("component", c.name))
			continue
		}
		p.log.Info("installing component", zap.String("component", c.name))
		if err := p.run(ctx, c.install); err != nil {
			return err
		}
	}

	if err := p.run(ctx, "systemctl enable --now docker nginx"); err != nil {
		return err
	}
	if p.user != "root" {
		if err := p.run(ctx, fmt.Sprintf("usermod -aG docker %s", p.user)); err != nil {
			return err
		}
	}

	// rsync creates only the final path component, so the parents must
	// exist before the first mirror; the deploying user needs to own the
	// tree to write into it.
	if err := p.run(ctx, fmt.Sprintf("mkdir -p %s", p.appPath)); err != nil {
		return err
	}
	if p.user != "root" {
		if err := p.run(ctx, fmt.Sprintf("chown %s: %s", p.user, p.appPath)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) run(ctx context.Context, cmd string) error {
	if _, err := p.runner.Run(ctx, sshx.Elevate(cmd, p.sudo)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProvision, err)
	}
	return nil
}
