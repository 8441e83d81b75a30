package sidecar

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

const (
	defaultInitialDelay = 200 * time.Millisecond
	defaultMaxDelay     = 2000 * time.Millisecond
	defaultMaxAttempts  = 30
	defaultProbeTimeout = 1 * time.Second
)

// DefaultEndpoints are the health-check URLs tried in priority order:
// the health endpoint by hostname, the same by loopback address, and the
// API docs page as a fallback.
var DefaultEndpoints = []string{
	"http://localhost:8000/health",
	"http://127.0.0.1:8000/health",
	"http://localhost:8000/docs",
}

// ProbeOutcome is the terminal state of one prober run.
type ProbeOutcome string

const (
	// ProbeSucceeded means an endpoint answered 2xx, or readiness was
	// already set externally (e.g. by the output monitor).
	ProbeSucceeded ProbeOutcome = "succeeded"
	// ProbeForcedReady means the attempt budget ran out and readiness
	// was forced so the host does not block forever.
	ProbeForcedReady ProbeOutcome = "forced_ready"
	// ProbeAborted means the context was cancelled mid-run.
	ProbeAborted ProbeOutcome = "aborted"
)

// HealthProber independently verifies readiness over HTTP, covering the
// case where the backend never prints the expected marker (version
// drift, output buffering). Transport errors and non-2xx responses are
// both just "not ready yet".
type HealthProber struct {
	RunID     string
	Endpoints []string
	Readiness *Readiness

	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Timeout      time.Duration

	Client *http.Client

	// OnReady fires if a probe made the NotReady->Ready transition.
	OnReady func(endpoint string)
	// OnTimeout fires when the attempt budget is exhausted.
	OnTimeout func()
}

// Run probes until readiness is confirmed, forced, or ctx is cancelled.
func (p *HealthProber) Run(ctx context.Context) ProbeOutcome {
	endpoints := p.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = defaultInitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	loggedFailure := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// The output monitor may have won the race already.
		if p.Readiness.Ready() {
			return ProbeSucceeded
		}

		endpoint, err := p.probeOnce(ctx, client, endpoints, timeout)
		if err == nil {
			log.Printf("backend_event=health_confirmed run_id=%s endpoint=%s attempt=%d", p.RunID, endpoint, attempt+1)
			if p.Readiness.Set() && p.OnReady != nil {
				p.OnReady(endpoint)
			}
			return ProbeSucceeded
		}

		// Only the first failure is logged to keep the log quiet during
		// a normal slow start.
		if !loggedFailure {
			loggedFailure = true
			log.Printf("backend_event=probe_failed run_id=%s attempt=%d error=%q", p.RunID, attempt+1, err.Error())
		}

		select {
		case <-time.After(delay):
		case <-p.Readiness.Done():
			return ProbeSucceeded
		case <-ctx.Done():
			return ProbeAborted
		}
		delay = nextDelay(delay, maxDelay)
	}

	log.Printf("Warning: backend readiness not confirmed after %d attempts, proceeding anyway run_id=%s", maxAttempts, p.RunID)
	if p.Readiness.Force() && p.OnTimeout != nil {
		p.OnTimeout()
	}
	return ProbeForcedReady
}

// probeOnce tries each endpoint in order and returns the first that
// answers with a success-class status.
func (p *HealthProber) probeOnce(ctx context.Context, client *http.Client, endpoints []string, timeout time.Duration) (string, error) {
	var lastErr error

	for _, endpoint := range endpoints {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}
		resp.Body.Close()
		cancel()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return endpoint, nil
		}
		lastErr = fmt.Errorf("endpoint %s returned status %d", endpoint, resp.StatusCode)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no health endpoints configured")
	}
	return "", lastErr
}

// nextDelay doubles the backoff delay, capped at max.
func nextDelay(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		delay = max
	}
	return delay
}
