package probe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/core/domain"
	"github.com/halil/dockhand/internal/core/ports"
)

const probeTimeout = 10 * time.Second

// Prober confirms external reachability after deployment: once from the
// target host against its own loopback port, then from the driving machine
// by IP and by hostname through the proxy. Failures are reported, never
// fatal; the deployment is already considered complete.
type Prober struct {
	runner      ports.RemoteRunner
	host        string
	serverNames []string
	port        int
	client      *http.Client
	log         *zap.Logger
}

func NewProber(runner ports.RemoteRunner, host string, serverNames []string, port int, log *zap.Logger) *Prober {
	return &Prober{
		runner:      runner,
		host:        host,
		serverNames: serverNames,
		port:        port,
		log:         log,
		client: &http.Client{
			Timeout: probeTimeout,
			// Redirects count as reachable; report the first response.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Probe runs all probes and returns their results.
func (p *Prober) Probe(ctx context.Context) []domain.ProbeResult {
	results := []domain.ProbeResult{p.remoteLoopback(ctx)}
	results = append(results, p.probeURL(ctx, "ip", fmt.Sprintf("http://%s/", p.host)))
	for _, name := range p.serverNames {
		results = append(results, p.probeURL(ctx, "hostname", fmt.Sprintf("http://%s/", name)))
	}
	return results
}

// remoteLoopback checks the container directly, bypassing the proxy.
func (p *Prober) remoteLoopback(ctx context.Context) domain.ProbeResult {
	url := fmt.Sprintf("http://127.0.0.1:%d/", p.port)
	result := domain.ProbeResult{Name: "loopback", URL: url}

	cmd := fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' --max-time %d %s", int(probeTimeout.Seconds()), url)
	out, err := p.runner.Run(ctx, cmd)
	if err != nil {
		result.Err = err
		return result
	}
	code, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	if err != nil {
		result.Err = fmt.Errorf("unexpected curl output %q", out.Stdout)
		return result
	}
	result.StatusCode = code
	return result
}

func (p *Prober) probeURL(ctx context.Context, name, url string) domain.ProbeResult {
	result := domain.ProbeResult{Name: name, URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Err = err
		return result
	}
	resp, err := p.client.Do(req)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode
	return result
}
