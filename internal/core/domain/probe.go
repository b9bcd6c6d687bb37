package domain

import "fmt"

// ProbeResult is the outcome of a single HTTP reachability probe.
type ProbeResult struct {
	Name       string // which vantage point: loopback, ip, hostname
	URL        string
	StatusCode int
	Err        error
}

// OK reports whether the probe reached the application. Redirects count as
// reachable since the proxy or the app may force a canonical host or TLS.
func (r ProbeResult) OK() bool {
	if r.Err != nil {
		return false
	}
	switch r.StatusCode {
	case 200, 301, 302:
		return true
	}
	return false
}

func (r ProbeResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s %s: %v", r.Name, r.URL, r.Err)
	}
	return fmt.Sprintf("%s %s: HTTP %d", r.Name, r.URL, r.StatusCode)
}
