package breaker

import (
	"sync"
	"time"
)

// Circuit states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// failureWindow bounds how far back failures count toward opening a circuit
const failureWindow = time.Minute

// maxOpenTimeout caps the doubling reopen timeout
const maxOpenTimeout = 10 * time.Minute

// Breaker gates calls per provider. CLOSED passes everything; enough
// failures inside the rolling window flip the circuit OPEN; once the open
// timeout elapses a single HALF_OPEN probe decides between closing again and
// reopening with a doubled timeout.
type Breaker struct {
	threshold   int
	openTimeout time.Duration

	mu       sync.Mutex
	circuits map[string]*circuit

	now func() time.Time
}

type circuit struct {
	mu       sync.Mutex
	state    string
	failures []time.Time
	openedAt time.Time
	timeout  time.Duration
}

// New creates a breaker. Circuits are created CLOSED the first time a
// provider is touched.
func New(threshold int, openTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:   threshold,
		openTimeout: openTimeout,
		circuits:    make(map[string]*circuit),
		now:         time.Now,
	}
}

// Allow reports whether a call to the provider may proceed. When an OPEN
// circuit's timeout has elapsed, exactly one caller gets true as the
// HALF_OPEN probe; everyone else waits for its outcome.
func (b *Breaker) Allow(provider string) bool {
	c := b.circuit(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) >= c.timeout {
			c.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// Probe outstanding
		return false
	default:
		return true
	}
}

// RecordFailure counts a failed call. A failed HALF_OPEN probe reopens the
// circuit with its timeout doubled up to the cap.
func (b *Breaker) RecordFailure(provider string) {
	c := b.circuit(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.now()

	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = now
		c.failures = nil
		c.timeout *= 2
		if c.timeout > maxOpenTimeout {
			c.timeout = maxOpenTimeout
		}
	case StateOpen:
		// Stragglers from calls in flight when the circuit opened carry no
		// new information; the clock keeps running
	default:
		cutoff := now.Add(-failureWindow)
		valid := c.failures[:0]
		for _, ts := range c.failures {
			if ts.After(cutoff) {
				valid = append(valid, ts)
			}
		}
		c.failures = append(valid, now)

		if len(c.failures) >= b.threshold {
			c.state = StateOpen
			c.openedAt = now
			c.failures = nil
		}
	}
}

// RecordSuccess counts a successful call. A successful HALF_OPEN probe
// closes the circuit and restores the base timeout.
func (b *Breaker) RecordSuccess(provider string) {
	c := b.circuit(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateHalfOpen:
		c.state = StateClosed
		c.failures = nil
		c.timeout = b.openTimeout
	case StateClosed:
		c.failures = nil
	case StateOpen:
		// A late success from before the circuit opened; only the probe
		// closes it
	}
}

// Release hands back a probe slot that produced no outcome. A caller
// admitted by Allow can find itself unable to complete the probe (no usable
// key, caller gone before the call settled); reverting to OPEN without
// touching the timeout keeps the elapsed wait, so the next Allow can hand
// the slot to a caller that can use it. Outside HALF_OPEN it is a no-op.
func (b *Breaker) Release(provider string) {
	c := b.circuit(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateHalfOpen {
		c.state = StateOpen
	}
}

// State returns the provider's current circuit state
func (b *Breaker) State(provider string) string {
	c := b.circuit(provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (b *Breaker) circuit(provider string) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[provider]
	if !ok {
		c = &circuit{state: StateClosed, timeout: b.openTimeout}
		b.circuits[provider] = c
	}
	return c
}
