package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/config"
	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/ports"
)

const (
	defaultSettleDelay = 5 * time.Second
	logTail            = 20
)

// DeployerFactory builds the container deployer once the build strategy is
// known; the strategy is only resolved after the source has been fetched.
type DeployerFactory func(strategy domain.BuildStrategy, composeFile string) (ports.ContainerDeployer, error)

// Deps are the collaborators the pipeline drives. Everything is an interface
// so the step ordering can be tested without a network.
type Deps struct {
	Fetcher     ports.SourceFetcher
	Runner      ports.RemoteRunner
	Provisioner ports.Provisioner
	Syncer      ports.FileSyncer
	NewDeployer DeployerFactory
	Proxy       ports.ProxyConfigurator
	Prober      ports.EndpointProber
}

// Pipeline executes the deployment steps strictly in order. Every step is
// fatal except the endpoint probes, which only warn.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
	log  *zap.Logger

	// BaseDir roots the scratch workspace; defaults to the system temp dir.
	BaseDir string
	// SettleDelay is the wait before deployment validation.
	SettleDelay time.Duration
}

func New(cfg *config.Config, deps Deps, log *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		deps:        deps,
		log:         log,
		BaseDir:     os.TempDir(),
		SettleDelay: defaultSettleDelay,
	}
}

// Deploy runs the full pipeline: validate, fetch, inspect, ping, provision,
// sync, deploy, validate deployment, configure proxy, probe. The scratch
// workspace is removed on every exit path.
func (p *Pipeline) Deploy(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	ws, err := newWorkspace(p.BaseDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			p.log.Warn("failed to remove workspace", zap.String("path", ws.Root), zap.Error(err))
		}
	}()

	p.log.Info("fetching source", zap.String("workspace", ws.Root))
	if err := p.deps.Fetcher.Sync(ctx, ws.RepoDir); err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}

	strategy, composeFile, err := domain.DetectStrategy(ws.RepoDir)
	if err != nil {
		return err
	}
	p.log.Info("resolved build strategy", zap.String("strategy", string(strategy)))

	p.log.Info("checking connectivity", zap.String("host", p.cfg.Server.Host))
	if err := p.deps.Runner.Ping(ctx); err != nil {
		return err
	}

	p.log.Info("provisioning target host")
	if err := p.deps.Provisioner.EnsureRuntime(ctx); err != nil {
		return err
	}

	// Provisioning may have added the deploy user to the docker group;
	// that only takes effect on a fresh login session.
	if err := p.deps.Runner.Reset(); err != nil {
		return fmt.Errorf("%w: reset remote session: %v", domain.ErrProvision, err)
	}

	if err := p.deps.Syncer.Mirror(ctx, ws.RepoDir); err != nil {
		return fmt.Errorf("%w: sync files: %v", domain.ErrDeploy, err)
	}

	deployer, err := p.deps.NewDeployer(strategy, composeFile)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeploy, err)
	}
	if err := deployer.Deploy(ctx, ws.RepoDir); err != nil {
		return err
	}

	c, err := p.validateDeployment(ctx, deployer)
	if err != nil {
		return err
	}

	p.log.Info("configuring reverse proxy")
	if err := p.deps.Proxy.Configure(ctx); err != nil {
		return err
	}

	p.probe(ctx)

	p.log.Info("deployment complete",
		zap.String("app", p.cfg.App.Name),
		zap.String("strategy", string(strategy)),
		zap.String("container_id", c.ID),
		zap.Strings("urls", p.publicURLs()),
	)
	return nil
}

// publicURLs lists the addresses the deployment is reachable on through the
// proxy, falling back to the bare host when no server names are configured.
func (p *Pipeline) publicURLs() []string {
	names := p.cfg.Proxy.ServerNames
	if len(names) == 0 {
		names = []string{p.cfg.Server.Host}
	}
	urls := make([]string, len(names))
	for i, name := range names {
		urls[i] = "http://" + name + "/"
	}
	return urls
}

// Teardown removes the deployed container, the proxy site, and the remote
// application directory. It shares nothing with the deploy path beyond
// config validation and the connectivity check.
func (p *Pipeline) Teardown(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	if err := p.deps.Runner.Ping(ctx); err != nil {
		return err
	}

	p.log.Info("removing deployed containers", zap.String("app", p.cfg.App.Name))
	for _, strategy := range []domain.BuildStrategy{domain.StrategyCompose, domain.StrategyDockerfile} {
		deployer, err := p.deps.NewDeployer(strategy, "")
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDeploy, err)
		}
		if err := deployer.Remove(ctx); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDeploy, err)
		}
	}

	p.log.Info("removing proxy site")
	if err := p.deps.Proxy.Remove(ctx); err != nil {
		return err
	}

	p.log.Info("removing remote application directory", zap.String("path", p.cfg.RemoteAppPath()))
	cmd := fmt.Sprintf("rm -rf %s", p.cfg.RemoteAppPath())
	if p.cfg.Sudo() {
		cmd = "sudo -n " + cmd
	}
	if _, err := p.deps.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeploy, err)
	}

	p.log.Info("teardown complete", zap.String("app", p.cfg.App.Name))
	return nil
}

func (p *Pipeline) validateDeployment(ctx context.Context, deployer ports.ContainerDeployer) (domain.Container, error) {
	p.log.Info("waiting for deployment to settle", zap.Duration("delay", p.SettleDelay))
	select {
	case <-time.After(p.SettleDelay):
	case <-ctx.Done():
		return domain.Container{}, ctx.Err()
	}

	if _, err := p.deps.Runner.Run(ctx, "systemctl is-active docker"); err != nil {
		return domain.Container{}, fmt.Errorf("%w: runtime service inactive: %v", domain.ErrValidation, err)
	}

	c, err := deployer.Validate(ctx)
	if err != nil {
		return domain.Container{}, err
	}
	p.log.Info("deployment validated",
		zap.String("container_id", c.ID),
		zap.String("state", c.State),
	)

	if logs, err := deployer.Logs(ctx, logTail); err != nil {
		p.log.Warn("could not fetch deployment logs", zap.Error(err))
	} else if logs != "" {
		p.log.Info("recent deployment logs", zap.String("logs", logs))
	}
	return c, nil
}

// probe reports reachability; failures are warnings by design, the
// deployment itself has already been validated.
func (p *Pipeline) probe(ctx context.Context) {
	for _, result := range p.deps.Prober.Probe(ctx) {
		if result.OK() {
			p.log.Info("probe succeeded", zap.String("probe", result.String()))
		} else {
			p.log.Warn("probe failed", zap.String("probe", result.String()))
		}
	}
}
