package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/halil/dockhand/internal/core/ports"
)

type fakeRunner struct {
	stdout string
	err    error
}

func (f *fakeRunner) Ping(ctx context.Context) error { return nil }

func (f *fakeRunner) Run(ctx context.Context, cmd string) (ports.Output, error) {
	if f.err != nil {
		return ports.Output{ExitCode: 1}, f.err
	}
	return ports.Output{Stdout: f.stdout}, nil
}

func (f *fakeRunner) RunInput(ctx context.Context, cmd string, stdin io.Reader) (ports.Output, error) {
	return f.Run(ctx, cmd)
}

func (f *fakeRunner) Reset() error { return nil }

func newProber(runner ports.RemoteRunner) *Prober {
	return NewProber(runner, "203.0.113.10", []string{"demo.example.com"}, 3000, zap.NewNop())
}

func TestProbeURLSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := newProber(&fakeRunner{}).probeURL(context.Background(), "ip", srv.URL+"/")
	if !result.OK() {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestProbeURLDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://invalid.example/", http.StatusFound)
	}))
	defer srv.Close()

	result := newProber(&fakeRunner{}).probeURL(context.Background(), "hostname", srv.URL+"/")
	if result.StatusCode != http.StatusFound {
		t.Fatalf("expected raw 302, got %+v", result)
	}
	if !result.OK() {
		t.Fatal("302 should count as reachable")
	}
}

func TestProbeURLConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	result := newProber(&fakeRunner{}).probeURL(context.Background(), "ip", url+"/")
	if result.OK() || result.Err == nil {
		t.Fatalf("expected failure, got %+v", result)
	}
}

func TestRemoteLoopbackParsesCurlOutput(t *testing.T) {
	result := newProber(&fakeRunner{stdout: "200\n"}).remoteLoopback(context.Background())
	if !result.OK() || result.StatusCode != 200 {
		t.Fatalf("expected loopback success, got %+v", result)
	}
}

func TestRemoteLoopbackCommandFailure(t *testing.T) {
	result := newProber(&fakeRunner{err: fmt.Errorf("exited 7")}).remoteLoopback(context.Background())
	if result.OK() {
		t.Fatalf("expected failure, got %+v", result)
	}
}

func TestProbeCoversAllVantagePoints(t *testing.T) {
	results := newProber(&fakeRunner{stdout: "200"}).Probe(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected loopback + ip + hostname, got %d results", len(results))
	}
	names := []string{results[0].Name, results[1].Name, results[2].Name}
	if strings.Join(names, ",") != "loopback,ip,hostname" {
		t.Fatalf("unexpected probe order %v", names)
	}
}
