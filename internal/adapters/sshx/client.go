package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/skeema/knownhosts"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/ports"
)

// dialTimeout bounds the initial connectivity check; all other remote calls
// block until the command itself finishes.
const dialTimeout = 10 * time.Second

// Options describe the SSH target. KnownHosts is optional; when empty the
// client accepts any host key, matching `StrictHostKeyChecking=no`.
type Options struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	KnownHosts string
}

// Client runs commands on the target host over a single SSH connection,
// established lazily and reused across pipeline steps.
type Client struct {
	addr   string
	config *ssh.ClientConfig
	log    *zap.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

// New builds a client from key-based credentials. No connection is made yet.
func New(opts Options, log *zap.Logger) (*Client, error) {
	key, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
	if opts.KnownHosts != "" {
		db, err := knownhosts.NewDB(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		cfg.HostKeyCallback = db.HostKeyCallback()
		cfg.HostKeyAlgorithms = db.HostKeyAlgorithms(addr)
	}

	return &Client{addr: addr, config: cfg, log: log}, nil
}

// Ping verifies reachability by connecting and running a no-op command.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	if _, err := c.Run(ctx, "true"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	return nil
}

// Run executes a command on the target and captures its output.
func (c *Client) Run(ctx context.Context, cmd string) (ports.Output, error) {
	return c.RunInput(ctx, cmd, nil)
}

// RunInput executes a command with the given reader as its stdin.
func (c *Client) RunInput(ctx context.Context, cmd string, stdin io.Reader) (ports.Output, error) {
	out := ports.Output{ExitCode: -1}
	if err := c.connect(); err != nil {
		return out, err
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return out, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	c.log.Debug("remote command", zap.String("cmd", cmd))
	if err := session.Start(cmd); err != nil {
		return out, fmt.Errorf("start remote command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return out, ctx.Err()
	case err = <-done:
	}

	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if err == nil {
		out.ExitCode = 0
		return out, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
		return out, fmt.Errorf("remote command %q exited %d: %s", cmd, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return out, fmt.Errorf("remote command %q: %w", cmd, err)
}

// DockerDialer returns a dialer that tunnels connections to the remote
// engine socket through the SSH connection, for use with the docker client's
// WithDialContext option.
func (c *Client) DockerDialer(socketPath string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		if err := c.connect(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		return conn.DialContext(ctx, "unix", socketPath)
	}
}

// Reset drops the cached connection; the next command dials and logs in
// afresh, picking up server-side changes such as new group membership.
func (c *Client) Reset() error {
	return c.Close()
}

// Close tears down the SSH connection if one was established.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := ssh.Dial("tcp", c.addr, c.config)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

// Elevate prefixes a command with non-interactive sudo when required.
func Elevate(cmd string, sudo bool) string {
	if sudo {
		return "sudo -n " + cmd
	}
	return cmd
}
