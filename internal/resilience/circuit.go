package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	// HalfOpen lets exactly one trial call through to test the dependency.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

func (s State) gauge() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	}
	return -1
}

// tally counts outcomes since the breaker last closed. Once it holds more
// than twice the minimum sample both counts are halved so old outcomes fade.
type tally struct {
	ok, failed int
}

func (t *tally) add(success bool) {
	if success {
		t.ok++
		return
	}
	t.failed++
}

func (t tally) total() int { return t.ok + t.failed }

func (t tally) ratio() float64 {
	if t.total() == 0 {
		return 0
	}
	return float64(t.failed) / float64(t.total())
}

func (t *tally) decay() {
	t.ok = (t.ok + 1) / 2
	t.failed = (t.failed + 1) / 2
}

// Breaker trips when the failure ratio over at least minRequests outcomes
// reaches failureRatio, rejects calls for openFor, then admits a single trial call.
// A nil *Breaker admits everything.
type Breaker struct {
	mu           sync.Mutex
	state        State
	counts       tally
	probing      bool
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	openedAt     time.Time
	target       string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewBreaker constructs a closed breaker. Out-of-range settings fall back to
// one request, a 0.5 ratio and a 30s cool-off.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
}

// WithTarget names the dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishLocked()
	return b
}

// WithLogger sets the fallback logger for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a call may proceed. An open breaker whose cool-off
// elapsed turns half-open and admits the caller as its only trial call.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// Report records the outcome of an admitted call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.counts.add(success)
	if b.counts.total() < b.minRequests {
		return
	}
	if b.counts.ratio() >= b.failureRatio {
		b.moveLocked(ctx, Open)
		return
	}
	if b.counts.total() > b.minRequests*2 {
		b.counts.decay()
	}
}

// State returns the current position. An open breaker past its cool-off
// reports Open until the next Allow admits a trial call.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns nil when a call would be admitted now or after the cool-off,
// and an ErrOpenCircuit wrap naming the remaining cool-off otherwise.
func (b *Breaker) Err() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return nil
	}
	remaining := b.openFor - b.now().Sub(b.openedAt)
	if remaining <= 0 {
		return nil
	}
	return fmt.Errorf("%s: %w, retry in %s", b.label(), ErrOpenCircuit, remaining.Round(time.Second))
}

// Backoff returns the exponential delay before the given attempt with a
// symmetric jitter fraction (0.2 == ±20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitterPct
	return d + time.Duration(delta)
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.counts = tally{}
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.publishLocked()
	if prev == next {
		return
	}

	label := b.label()
	BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &b.logger
	}
	evt := logger.Info().Str("target", label).Str("from_state", prev.String()).Str("to_state", next.String())
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishLocked() {
	BreakerState.WithLabelValues(b.label()).Set(b.state.gauge())
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
