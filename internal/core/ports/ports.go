package ports

import (
	"context"
	"io"

	"github.com/halil/dockhand/internal/core/domain"
)

// Output is the captured result of a remote command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SourceFetcher materializes the configured repository branch into a local
// directory, updating an existing checkout when one is present.
type SourceFetcher interface {
	Sync(ctx context.Context, dir string) error
}

// RemoteRunner executes commands on the target host. Implementations switch
// between SSH, a local shell, or test fakes without changing the pipeline.
type RemoteRunner interface {
	// Ping verifies reachability with a bounded connection timeout.
	Ping(ctx context.Context) error
	// Run executes a command and captures its output and exit code.
	// A non-zero exit code is returned as an error alongside the output.
	Run(ctx context.Context, cmd string) (Output, error)
	// RunInput is Run with the given reader wired to the remote stdin.
	RunInput(ctx context.Context, cmd string, stdin io.Reader) (Output, error)
	// Reset drops any cached connection so the next command starts a
	// fresh login session. Group membership granted during provisioning
	// only applies to sessions opened afterwards.
	Reset() error
}

// Provisioner ensures the container runtime, orchestrator CLI, and reverse
// proxy exist and are enabled on the target host.
type Provisioner interface {
	EnsureRuntime(ctx context.Context) error
}

// FileSyncer mirrors the local source tree to the remote application path.
type FileSyncer interface {
	Mirror(ctx context.Context, localDir string) error
}

// ContainerDeployer manages the application's containers on the target host
// for one build strategy.
type ContainerDeployer interface {
	// Deploy replaces any prior same-named deployment with a freshly built
	// one, started detached with auto-restart.
	Deploy(ctx context.Context, repoDir string) error
	// Validate asserts the deployment is listed and running.
	Validate(ctx context.Context) (domain.Container, error)
	// Logs returns the last tail lines of deployment output.
	Logs(ctx context.Context, tail int) (string, error)
	// Remove stops and removes the deployment, ignoring "not found".
	Remove(ctx context.Context) error
}

// ProxyConfigurator manages the reverse-proxy site for the application.
type ProxyConfigurator interface {
	Configure(ctx context.Context) error
	Remove(ctx context.Context) error
}

// EndpointProber issues HTTP reachability probes after deployment.
type EndpointProber interface {
	Probe(ctx context.Context) []domain.ProbeResult
}
