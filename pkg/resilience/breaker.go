// Package resilience guards job admission against overload and repeated
// infrastructure failures.
package resilience

import (
	"runtime"
	"sync"
	"time"

	"github.com/logflow/tabprep/pkg/errors"
)

// State is the state of a Breaker.
type State int

const (
	Closed   State = iota // admitting work
	Open                  // rejecting work until the cooldown passes
	HalfOpen              // admitting a single probe
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker limits in-flight work and opens after consecutive system
// failures. Failures caused by the input file itself do not count.
type Breaker struct {
	mu sync.Mutex

	maxInFlight int
	maxFailures int
	maxHeap     uint64
	cooldown    time.Duration
	onChange    func(from, to State)
	now         func() time.Time

	state    State
	inFlight int
	failures int
	openedAt time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithMaxInFlight bounds admitted but unfinished work.
func WithMaxInFlight(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxInFlight = n
		}
	}
}

// WithMaxFailures sets the consecutive failures that open the breaker.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the breaker stays open.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithMaxHeap rejects work while the live heap exceeds bytes. 0 disables.
func WithMaxHeap(bytes uint64) Option {
	return func(b *Breaker) { b.maxHeap = bytes }
}

// WithStateChange registers fn to observe transitions. fn is called
// without the breaker lock held.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a closed breaker.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		maxInFlight: 64,
		maxFailures: 5,
		cooldown:    30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow admits one unit of work or returns a CodeOverloaded error. Every
// successful Allow must be paired with Done.
func (b *Breaker) Allow() error {
	if b.maxHeap > 0 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		if m.HeapAlloc > b.maxHeap {
			return errors.New(errors.CodeOverloaded, "memory limit reached").
				WithContext("heap_alloc", m.HeapAlloc)
		}
	}

	b.mu.Lock()
	from := b.state
	if b.state == Open {
		wait := b.cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			b.mu.Unlock()
			return errors.New(errors.CodeOverloaded, "circuit open").
				WithContext("retry_after", wait.Round(time.Second).String())
		}
		b.state = HalfOpen
	}
	if b.state == HalfOpen && b.inFlight > 0 {
		b.mu.Unlock()
		b.changed(from, HalfOpen)
		return errors.New(errors.CodeOverloaded, "circuit half-open, probe in flight")
	}
	if b.inFlight >= b.maxInFlight {
		b.mu.Unlock()
		return errors.New(errors.CodeOverloaded, "too many jobs in flight").
			WithContext("limit", b.maxInFlight)
	}
	b.inFlight++
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
	return nil
}

// Done records the outcome of admitted work.
func (b *Breaker) Done(err error) {
	b.mu.Lock()
	from := b.state
	b.inFlight = max(0, b.inFlight-1)
	if err != nil && !errors.IsInput(err) {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.maxFailures {
			b.state = Open
			b.openedAt = b.now()
		}
	} else {
		b.failures = 0
		b.state = Closed
	}
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
}

func (b *Breaker) changed(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// passed still reports Open until the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// InFlight returns the admitted, unfinished work count.
func (b *Breaker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}
