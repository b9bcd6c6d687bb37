package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/adapters/compose"
	"github.com/halil/dockhand/internal/adapters/docker"
	"github.com/halil/dockhand/internal/adapters/git"
	"github.com/halil/dockhand/internal/adapters/nginx"
	"github.com/halil/dockhand/internal/adapters/probe"
	"github.com/halil/dockhand/internal/adapters/provision"
	"github.com/halil/dockhand/internal/adapters/rsync"
	"github.com/halil/dockhand/internal/adapters/sshx"
	"github.com/halil/dockhand/internal/config"
	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/pipeline"
	"github.com/halil/dockhand/internal/core/ports"
	"github.com/halil/dockhand/internal/logging"
)

const dockerSocket = "/var/run/docker.sock"

// Execute runs the root command and returns its error for exit-code mapping.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		cleanup    bool
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "dockhand",
		Short: "Deploy a containerized application to a single host over SSH",
		Long: `Dockhand clones the configured repository, provisions the target host
with Docker and nginx, mirrors the source tree, starts the containers using
the detected build strategy, and fronts them with a reverse-proxy site.

The git credential is read from the ` + config.TokenEnv + ` environment variable.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, cleanup, verbose)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "dockhand.yaml", "Path to the deployment config file")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Tear down the deployment instead of deploying")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log remote commands and debug detail to the console")
	return cmd
}

func run(ctx context.Context, configPath string, cleanup, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Fail on bad config before opening the log file or touching the key.
	if err := cfg.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	log, logPath, closeLog, err := logging.New(cfg.LogDir, runID, verbose)
	if err != nil {
		return err
	}
	defer closeLog()
	log.Info("run started",
		zap.String("app", cfg.App.Name),
		zap.String("log_file", logPath),
		zap.Bool("cleanup", cleanup),
	)

	// An interrupt cancels the current step; the pipeline's deferred
	// cleanup still removes the scratch workspace.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := sshx.New(sshx.Options{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		User:       cfg.Server.User,
		KeyPath:    cfg.Server.Key,
		KnownHosts: cfg.Server.KnownHosts,
	}, log)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	defer runner.Close()

	serverNames := cfg.Proxy.ServerNames
	if len(serverNames) == 0 {
		serverNames = []string{cfg.Server.Host}
	}

	deps := pipeline.Deps{
		Fetcher:     git.NewFetcher(cfg.Repo.URL, cfg.Repo.Branch, cfg.Token, log),
		Runner:      runner,
		Provisioner: provision.NewProvisioner(runner, cfg.Server.User, cfg.RemoteAppPath(), cfg.Sudo(), log),
		Syncer:      rsync.NewSyncer(cfg.Server.Host, cfg.Server.Port, cfg.Server.User, cfg.Server.Key, cfg.RemoteAppPath(), log),
		Proxy:       nginx.NewConfigurator(runner, cfg.App.Name, cfg.App.Port, serverNames, cfg.Sudo(), log),
		Prober:      probe.NewProber(runner, cfg.Server.Host, serverNames, cfg.App.Port, log),
		NewDeployer: func(strategy domain.BuildStrategy, composeFile string) (ports.ContainerDeployer, error) {
			switch strategy {
			case domain.StrategyCompose:
				return compose.NewDeployer(runner, cfg.RemoteAppPath(), cfg.App.Name, composeFile, log), nil
			case domain.StrategyDockerfile:
				return docker.NewDeployer(runner.DockerDialer(dockerSocket), cfg.App.Name, cfg.App.Port, log)
			default:
				return nil, fmt.Errorf("unknown build strategy %q", strategy)
			}
		},
	}

	p := pipeline.New(cfg, deps, log)
	if cleanup {
		err = p.Teardown(ctx)
	} else {
		err = p.Deploy(ctx)
	}
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return err
	}
	return nil
}
