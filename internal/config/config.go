package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halil/dockhand/internal/core/domain"
)

// TokenEnv is the only source for the git credential; it is never read from
// the config file so it cannot end up committed next to it.
const TokenEnv = "DOCKHAND_GIT_TOKEN"

// remoteAppRoot is where application trees live on the target host.
const remoteAppRoot = "/opt/dockhand/apps"

// The app name and branch are interpolated into remote shell commands, file
// paths, and container names; restrict them to characters that are inert in
// all three. Branches additionally allow slashes.
var (
	appNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	branchRe  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_.-]*$`)
)

type App struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

type Repo struct {
	URL    string `yaml:"url"`
	Branch string `yaml:"branch"`
}

type Server struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Key        string `yaml:"key"`
	KnownHosts string `yaml:"known_hosts"`
}

type Proxy struct {
	ServerNames []string `yaml:"server_names"`
}

// Config is the full deployment configuration. It is constructed once at
// startup and treated as immutable afterwards.
type Config struct {
	App    App    `yaml:"app"`
	Repo   Repo   `yaml:"repo"`
	Server Server `yaml:"server"`
	Proxy  Proxy  `yaml:"proxy"`
	LogDir string `yaml:"log_dir"`

	// Token is the git credential, populated from TokenEnv.
	Token string `yaml:"-"`
}

// Load reads and decodes the YAML config file, applies defaults, and pulls
// the credential token from the environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfig, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfig, err)
	}
	cfg.applyDefaults()
	cfg.Token = os.Getenv(TokenEnv)
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Repo.Branch == "" {
		c.Repo.Branch = "main"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 22
	}
	if c.Server.User == "" {
		c.Server.User = "root"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	c.Server.Key = expandHome(c.Server.Key)
	c.Server.KnownHosts = expandHome(c.Server.KnownHosts)
}

// Validate checks the configuration before any remote connection is
// attempted. The SSH key's permission mode is tightened to 0600 when looser;
// every other problem is terminal.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("%w: app.name is required", domain.ErrConfig)
	}
	if !appNameRe.MatchString(c.App.Name) {
		return fmt.Errorf("%w: app.name %q must start with an alphanumeric and contain only alphanumerics, '_', '.', '-'", domain.ErrConfig, c.App.Name)
	}
	if !branchRe.MatchString(c.Repo.Branch) {
		return fmt.Errorf("%w: repo.branch %q must start with an alphanumeric and contain only alphanumerics, '/', '_', '.', '-'", domain.ErrConfig, c.Repo.Branch)
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("%w: app.port %d is not a valid port", domain.ErrConfig, c.App.Port)
	}
	if c.Repo.URL == "" {
		return fmt.Errorf("%w: repo.url is required", domain.ErrConfig)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("%w: server.host is required", domain.ErrConfig)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: credential token missing, set %s", domain.ErrConfig, TokenEnv)
	}
	if c.Server.Key == "" {
		return fmt.Errorf("%w: server.key is required", domain.ErrConfig)
	}
	info, err := os.Stat(c.Server.Key)
	if err != nil {
		return fmt.Errorf("%w: ssh key %s: %v", domain.ErrConfig, c.Server.Key, err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		if err := os.Chmod(c.Server.Key, 0o600); err != nil {
			return fmt.Errorf("%w: tighten ssh key permissions: %v", domain.ErrConfig, err)
		}
	}
	return nil
}

// RemoteAppPath is the directory the source tree is mirrored into on the
// target host.
func (c *Config) RemoteAppPath() string {
	return filepath.Join(remoteAppRoot, c.App.Name)
}

// Sudo reports whether remote privileged commands need a sudo prefix.
func (c *Config) Sudo() bool {
	return c.Server.User != "root"
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
