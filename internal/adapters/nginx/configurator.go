package nginx

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/adapters/sshx"
	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/ports"
)

const (
	sitesAvailable = "/etc/nginx/sites-available"
	sitesEnabled   = "/etc/nginx/sites-enabled"
	mainConfig     = "/etc/nginx/nginx.conf"
)

// siteTemplate routes the public server names to the loopback-bound app
// port. The upgrade and forwarding headers keep WebSocket connections and
// client-address awareness working through the proxy.
var siteTemplate = template.Must(template.New("site").Parse(`server {
    listen 80;
    server_name {{.ServerNames}};

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`))

// Configurator manages the application's reverse-proxy site on the target
// host: write, enable, syntax-validate, reload. A failed validation leaves
// the previously active configuration untouched.
type Configurator struct {
	runner      ports.RemoteRunner
	app         string
	port        int
	serverNames []string
	sudo        bool
	log         *zap.Logger
}

func NewConfigurator(runner ports.RemoteRunner, app string, port int, serverNames []string, sudo bool, log *zap.Logger) *Configurator {
	return &Configurator{runner: runner, app: app, port: port, serverNames: serverNames, sudo: sudo, log: log}
}

// Configure writes the site definition, disables the default site, enables
// the new one, and reloads the daemon after a successful syntax check.
func (c *Configurator) Configure(ctx context.Context) error {
	if err := c.ensureBucketSize(ctx); err != nil {
		return err
	}

	var site bytes.Buffer
	if err := c.render(&site); err != nil {
		return fmt.Errorf("%w: render site: %v", domain.ErrDeploy, err)
	}

	c.log.Info("writing proxy site", zap.String("site", c.availablePath()))
	writeCmd := sshx.Elevate(fmt.Sprintf("tee %s >/dev/null", c.availablePath()), c.sudo)
	if _, err := c.runner.RunInput(ctx, writeCmd, &site); err != nil {
		return fmt.Errorf("%w: write site: %v", domain.ErrDeploy, err)
	}

	// The default site would otherwise win host-header resolution for
	// requests hitting the bare IP.
	if err := c.run(ctx, fmt.Sprintf("rm -f %s/default", sitesEnabled)); err != nil {
		return err
	}
	if err := c.run(ctx, fmt.Sprintf("ln -sfn %s %s", c.availablePath(), c.enabledPath())); err != nil {
		return err
	}
	if err := c.validate(ctx); err != nil {
		return err
	}
	return c.reload(ctx)
}

// Remove deletes the site files and reloads the daemon with the remaining
// configuration, leaving it running.
func (c *Configurator) Remove(ctx context.Context) error {
	if err := c.run(ctx, fmt.Sprintf("rm -f %s %s", c.enabledPath(), c.availablePath())); err != nil {
		return err
	}
	if err := c.validate(ctx); err != nil {
		return err
	}
	return c.reload(ctx)
}

// ensureBucketSize raises the server-name hash bucket limit once; long
// hostnames otherwise break the syntax check after a few sites accumulate.
func (c *Configurator) ensureBucketSize(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, fmt.Sprintf("grep -q server_names_hash_bucket_size %s", mainConfig)); err == nil {
		return nil
	}
	patch := fmt.Sprintf(`sed -i 's/^http {/http {\n    server_names_hash_bucket_size 128;/' %s`, mainConfig)
	return c.run(ctx, patch)
}

func (c *Configurator) validate(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, sshx.Elevate("nginx -t", c.sudo)); err != nil {
		return fmt.Errorf("%w: proxy config rejected, previous configuration left active: %v", domain.ErrDeploy, err)
	}
	return nil
}

func (c *Configurator) reload(ctx context.Context) error {
	return c.run(ctx, "systemctl reload nginx")
}

func (c *Configurator) run(ctx context.Context, cmd string) error {
	if _, err := c.runner.Run(ctx, sshx.Elevate(cmd, c.sudo)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeploy, err)
	}
	return nil
}

func (c *Configurator) render(buf *bytes.Buffer) error {
	return siteTemplate.Execute(buf, struct {
		ServerNames string
		Port        int
	}{
		ServerNames: strings.Join(c.serverNames, " "),
		Port:        c.port,
	})
}

func (c *Configurator) availablePath() string {
	return fmt.Sprintf("%s/%s.conf", sitesAvailable, c.app)
}

func (c *Configurator) enabledPath() string {
	return fmt.Sprintf("%s/%s.conf", sitesEnabled, c.app)
}
