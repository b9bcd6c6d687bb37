package nginx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/ports"
)

type fakeRunner struct {
	commands []string
	stdins   map[string]string // command -> received stdin
	fail     []string
}

func (f *fakeRunner) Ping(ctx context.Context) error { return nil }

func (f *fakeRunner) Run(ctx context.Context, cmd string) (ports.Output, error) {
	return f.RunInput(ctx, cmd, nil)
}

func (f *fakeRunner) RunInput(ctx context.Context, cmd string, stdin io.Reader) (ports.Output, error) {
	f.commands = append(f.commands, cmd)
	if stdin != nil {
		body, _ := io.ReadAll(stdin)
		if f.stdins == nil {
			f.stdins = map[string]string{}
		}
		f.stdins[cmd] = string(body)
	}
	for _, marker := range f.fail {
		if strings.Contains(cmd, marker) {
			return ports.Output{ExitCode: 1}, fmt.Errorf("command %q exited 1", cmd)
		}
	}
	return ports.Output{}, nil
}

func (f *fakeRunner) Reset() error { return nil }

func (f *fakeRunner) ran(substr string) bool {
	for _, cmd := range f.commands {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

func newConfigurator(runner *fakeRunner, sudo bool) *Configurator {
	return NewConfigurator(runner, "demo", 3000, []string{"demo.example.com", "www.demo.example.com"}, sudo, zap.NewNop())
}

func TestRenderSite(t *testing.T) {
	var buf bytes.Buffer
	if err := newConfigurator(&fakeRunner{}, false).render(&buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	site := buf.String()
	for _, want := range []string{
		"server_name demo.example.com www.demo.example.com;",
		"proxy_pass http://127.0.0.1:3000;",
		"proxy_set_header Upgrade $http_upgrade;",
		`proxy_set_header Connection "upgrade";`,
		"proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;",
	} {
		if !strings.Contains(site, want) {
			t.Fatalf("rendered site missing %q:\n%s", want, site)
		}
	}
}

func TestConfigureSequence(t *testing.T) {
	runner := &fakeRunner{}
	if err := newConfigurator(runner, false).Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	var validateIdx, reloadIdx, writeIdx int = -1, -1, -1
	for i, cmd := range runner.commands {
		switch {
		case strings.Contains(cmd, "nginx -t"):
			validateIdx = i
		case strings.Contains(cmd, "systemctl reload nginx"):
			reloadIdx = i
		case strings.Contains(cmd, "tee /etc/nginx/sites-available/demo.conf"):
			writeIdx = i
		}
	}
	if writeIdx < 0 || validateIdx < 0 || reloadIdx < 0 {
		t.Fatalf("missing step in %v", runner.commands)
	}
	if !(writeIdx < validateIdx && validateIdx < reloadIdx) {
		t.Fatalf("expected write < validate < reload, got %v", runner.commands)
	}
	if !runner.ran("rm -f /etc/nginx/sites-enabled/default") {
		t.Fatal("expected default site disabled")
	}
	if !runner.ran("ln -sfn /etc/nginx/sites-available/demo.conf /etc/nginx/sites-enabled/demo.conf") {
		t.Fatal("expected site enabled by symlink")
	}
	body := runner.stdins["tee /etc/nginx/sites-available/demo.conf >/dev/null"]
	if !strings.Contains(body, "proxy_pass http://127.0.0.1:3000;") {
		t.Fatalf("uploaded site body missing proxy_pass:\n%s", body)
	}
}

func TestConfigureValidationFailureSkipsReload(t *testing.T) {
	runner := &fakeRunner{fail: []string{"nginx -t"}}
	err := newConfigurator(runner, false).Configure(context.Background())
	if !errors.Is(err, domain.ErrDeploy) {
		t.Fatalf("expected ErrDeploy, got %v", err)
	}
	if runner.ran("systemctl reload nginx") {
		t.Fatalf("reload must not run after failed validation: %v", runner.commands)
	}
}

func TestBucketSizePatchedOnlyWhenAbsent(t *testing.T) {
	present := &fakeRunner{} // grep succeeds, directive present
	if err := newConfigurator(present, false).Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if present.ran("sed -i") {
		t.Fatalf("expected no patch when directive present: %v", present.commands)
	}

	absent := &fakeRunner{fail: []string{"grep -q server_names_hash_bucket_size"}}
	if err := newConfigurator(absent, false).Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !absent.ran("server_names_hash_bucket_size 128") {
		t.Fatalf("expected patch when directive absent: %v", absent.commands)
	}
}

func TestSudoElevation(t *testing.T) {
	runner := &fakeRunner{}
	if err := newConfigurator(runner, true).Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !runner.ran("sudo -n tee /etc/nginx/sites-available/demo.conf") {
		t.Fatalf("expected elevated write: %v", runner.commands)
	}
	if !runner.ran("sudo -n systemctl reload nginx") {
		t.Fatalf("expected elevated reload: %v", runner.commands)
	}
}

func TestRemoveDeletesSiteAndReloads(t *testing.T) {
	runner := &fakeRunner{}
	if err := newConfigurator(runner, false).Remove(context.Background()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !runner.ran("rm -f /etc/nginx/sites-enabled/demo.conf /etc/nginx/sites-available/demo.conf") {
		t.Fatalf("expected site files removed: %v", runner.commands)
	}
	if !runner.ran("systemctl reload nginx") {
		t.Fatalf("expected reload after removal: %v", runner.commands)
	}
}
