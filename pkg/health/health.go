// Package health serves /livez and /readyz probes.
//
// Every probe runs in its own goroutine on a fixed interval and keeps its
// last result, so the endpoints never block on a slow dependency. A probe
// flips to failing only after FailAfter consecutive errors and back to
// passing on the first success.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Probe describes one periodic check.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   CheckFunc
	// FailAfter is the number of consecutive failures before the probe
	// reports unhealthy. Zero means 3.
	FailAfter int
}

type probeState struct {
	Probe

	passing atomic.Bool
	lastErr atomic.Pointer[error]

	// fails is touched only by the probe goroutine.
	fails int
}

func newProbeState(p Probe) *probeState {
	if p.FailAfter <= 0 {
		p.FailAfter = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = time.Second
	}
	s := &probeState{Probe: p}
	s.passing.Store(true)
	return s
}

func (s *probeState) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Check(ctx)
	s.lastErr.Store(&err)
	if err == nil {
		s.fails = 0
		s.passing.Store(true)
		return
	}
	s.fails++
	if s.fails >= s.FailAfter {
		s.passing.Store(false)
	}
}

func (s *probeState) failure() (string, bool) {
	if s.passing.Load() {
		return "", false
	}
	if p := s.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "failing", true
}

// Health holds the registered probes and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probeState
	readiness []*probeState
	cancel    context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Liveness registers a probe that decides whether the process should be
// restarted.
func (h *Health) Liveness(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbeState(p))
}

// Readiness registers a probe that decides whether the process should
// receive traffic.
func (h *Health) Readiness(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbeState(p))
}

// Start runs every registered probe now and then on each interval tick,
// until Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probeState{}, h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probeState) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}(p)
	}
}

// Stop halts the probe goroutines. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag. It is raised once startup is done
// and lowered when shutdown begins.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual flag combined with every readiness probe.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(h.readinessProbes())) == 0
}

// LiveEndpoint serves the liveness report.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probeState{}, h.liveness...)
	h.mu.RUnlock()

	writeReport(w, h.failures(probes))
}

// ReadyEndpoint serves the readiness report.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(h.readinessProbes())
	if !h.ready.Load() {
		failures["ready"] = "not ready"
	}
	writeReport(w, failures)
}

func (h *Health) readinessProbes() []*probeState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*probeState{}, h.readiness...)
}

func (h *Health) failures(probes []*probeState) map[string]string {
	out := make(map[string]string)
	for _, p := range probes {
		if msg, failing := p.failure(); failing {
			out[p.Name] = msg
		}
	}
	return out
}

// writeReport renders {"status":"ok"} or
// {"status":"unhealthy","checks":{name:error}} with a 503.
func writeReport(w http.ResponseWriter, failures map[string]string) {
	status := http.StatusOK
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
