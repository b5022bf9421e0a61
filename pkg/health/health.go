// Package health serves Kubernetes-style /livez and /readyz probes backed by
// periodic background checks with failure thresholds.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	// Liveness failures mean the process should be restarted.
	Liveness Kind = iota
	// Readiness failures mean the process should not receive traffic.
	Readiness
)

// Check describes one registered check.
type Check struct {
	Name    string
	Kind    Kind
	Timeout time.Duration
	Func    CheckFunc
	// FailureThreshold is the number of consecutive failures that marks the
	// check unhealthy. Defaults to 3.
	FailureThreshold int
}

// probe is the runtime state of a Check. run is only called from the
// check's own goroutine; status is read by HTTP handlers.
type probe struct {
	Check

	mu        sync.Mutex
	healthy   bool
	lastErr   error
	failures  int
	lastRunAt time.Time
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := p.Func(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	p.lastRunAt = time.Now()
	if err == nil {
		p.failures = 0
		p.healthy = true
		return
	}
	p.failures++
	if p.failures >= p.FailureThreshold {
		p.healthy = false
	}
}

// status returns "" when healthy, otherwise the failure reason.
func (p *probe) status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthy {
		return ""
	}
	if p.lastErr != nil {
		return p.lastErr.Error()
	}
	return "check is unhealthy"
}

// Health owns the registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New creates a Health that starts not ready; call SetReady(true) once
// initialization is complete.
func New() *Health {
	return &Health{}
}

// Add registers a check. Checks start healthy until proven otherwise.
func (h *Health) Add(c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, &probe{Check: c, healthy: true})
}

// AddLivenessCheck registers a liveness check.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, f CheckFunc) {
	h.Add(Check{Name: name, Kind: Liveness, Timeout: timeout, Func: f})
}

// AddReadinessCheck registers a readiness check.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, f CheckFunc) {
	h.Add(Check{Name: name, Kind: Readiness, Timeout: timeout, Func: f})
}

// Start runs every check immediately and then every interval until Stop or
// ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := slices.Clone(h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels the background checks. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch, typically false during
// graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	probes := slices.Clone(h.probes)
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range probes {
		if p.Kind != kind {
			continue
		}
		if msg := p.status(); msg != "" {
			out[p.Name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeResponse(w, failures)
}

// writeResponse writes {"status":"ok"} or 503 with the failing checks in
// name order.
func writeResponse(w http.ResponseWriter, failures map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failures) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failures) == 0 {
			return
		}
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
