package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/core/domain"
)

// DialFunc tunnels engine API connections to the target host, typically over
// an SSH channel to the remote docker socket.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Deployer implements the single-Dockerfile build strategy against the
// remote engine: build the image from the local source tree, then replace
// the named container with a fresh one bound to the loopback interface.
type Deployer struct {
	cli  *client.Client
	app  string
	port int
	log  *zap.Logger
}

func NewDeployer(dialer DialFunc, app string, port int, log *zap.Logger) (*Deployer, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost("http://docker"),
		client.WithDialContext(dialer),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Deployer{cli: cli, app: app, port: port, log: log}, nil
}

// Deploy removes any prior container with the application's name, builds the
// image from repoDir, and starts a detached auto-restarting container with
// the app port published on 127.0.0.1 only.
func (d *Deployer) Deploy(ctx context.Context, repoDir string) error {
	if err := d.Remove(ctx); err != nil {
		return fmt.Errorf("%w: remove previous container: %v", domain.ErrDeploy, err)
	}

	image := d.app + ":latest"
	if err := d.buildImage(ctx, repoDir, image); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeploy, err)
	}

	port, bindings := loopbackBinding(d.port)
	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        image,
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels:       map[string]string{"managed-by": "dockhand"},
		},
		&container.HostConfig{
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
			PortBindings:  bindings,
		},
		nil, nil, d.app)
	if err != nil {
		return fmt.Errorf("%w: create container: %v", domain.ErrDeploy, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("%w: start container: %v", domain.ErrDeploy, err)
	}
	d.log.Info("container started", zap.String("container_id", shortID(resp.ID)))
	return nil
}

// Validate asserts that the named container is listed, running, and has a
// non-empty ID.
func (d *Deployer) Validate(ctx context.Context) (domain.Container, error) {
	found, err := d.find(ctx, false)
	if err != nil {
		return domain.Container{}, fmt.Errorf("%w: list containers: %v", domain.ErrValidation, err)
	}
	if len(found) == 0 {
		return domain.Container{}, fmt.Errorf("%w: container %s is not running", domain.ErrValidation, d.app)
	}
	c := found[0]
	if c.ID == "" {
		return domain.Container{}, fmt.Errorf("%w: container %s has no ID", domain.ErrValidation, d.app)
	}
	return domain.Container{
		ID:     shortID(c.ID),
		Name:   d.app,
		Image:  c.Image,
		Status: c.Status,
		State:  c.State,
	}, nil
}

// Logs returns the last tail lines of the container's output for diagnosis.
func (d *Deployer) Logs(ctx context.Context, tail int) (string, error) {
	found, err := d.find(ctx, true)
	if err != nil || len(found) == 0 {
		return "", fmt.Errorf("container %s not found", d.app)
	}
	reader, err := d.cli.ContainerLogs(ctx, found[0].ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	return buf.String(), nil
}

// Remove force-removes any container with the application's name, running or
// not. A missing container is not an error.
func (d *Deployer) Remove(ctx context.Context) error {
	found, err := d.find(ctx, true)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, c := range found {
		d.log.Info("removing container", zap.String("container_id", shortID(c.ID)))
		if err := d.cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove container %s: %w", shortID(c.ID), err)
		}
	}
	return nil
}

func (d *Deployer) buildImage(ctx context.Context, repoDir, image string) error {
	buildCtx, err := archive.TarWithOptions(repoDir, &archive.TarOptions{
		ExcludePatterns: []string{".git"},
	})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	d.log.Info("building image", zap.String("image", image))
	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{image},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	defer resp.Body.Close()

	// The build stream reports errors in-band; draining it through the
	// jsonmessage decoder surfaces them as real errors.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	return nil
}

// find lists containers named exactly after the application. The engine's
// name filter matches substrings, so results are re-checked.
func (d *Deployer) find(ctx context.Context, all bool) ([]types.Container, error) {
	list, err := d.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     all,
		Filters: filters.NewArgs(filters.Arg("name", d.app)),
	})
	if err != nil {
		return nil, err
	}
	var found []types.Container
	for _, c := range list {
		for _, name := range c.Names {
			if strings.TrimPrefix(name, "/") == d.app {
				found = append(found, c)
				break
			}
		}
	}
	return found, nil
}

// loopbackBinding maps the container's port to the same port on the host's
// loopback address only; external traffic must come through the proxy.
func loopbackBinding(appPort int) (nat.Port, nat.PortMap) {
	port := nat.Port(fmt.Sprintf("%d/tcp", appPort))
	return port, nat.PortMap{
		port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", appPort)}},
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
