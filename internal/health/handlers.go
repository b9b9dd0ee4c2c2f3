package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness. The server flips it off when draining.
func SetReady(v bool) { ready.Store(v) }

// CheckFunc checks a single dependency.
type CheckFunc func(ctx context.Context) error

// Check is a named readiness check.
type Check struct {
	Name    string
	Timeout time.Duration
	Run     CheckFunc
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks []Check
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check concurrently and reports 503 if any fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	status := make(map[string]string, len(h.Checks))
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range h.Checks {
		g.Go(func() error {
			result := "ok"
			if err := c.run(r.Context()); err != nil {
				result = err.Error()
			}
			mu.Lock()
			status[c.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	for _, v := range status {
		if v != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (c Check) run(ctx context.Context) error {
	if c.Run == nil {
		return nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Run(ctx)
}
