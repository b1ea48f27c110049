package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBreaker(threshold int, openTimeout time.Duration, now *time.Time) *Breaker {
	b := New(threshold, openTimeout)
	b.now = func() time.Time { return *now }
	return b
}

func TestOpensAtThreshold(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(3, time.Minute, &now)

	b.RecordFailure("groq")
	b.RecordFailure("groq")
	if !b.Allow("groq") {
		t.Fatal("circuit should stay closed below the threshold")
	}

	b.RecordFailure("groq")
	if b.Allow("groq") {
		t.Error("circuit should reject once the threshold is reached")
	}
	if got := b.State("groq"); got != StateOpen {
		t.Errorf("state = %q, want %q", got, StateOpen)
	}
}

func TestHalfOpenSingleProbe(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)

	b.RecordFailure("groq")
	if b.Allow("groq") {
		t.Fatal("circuit should be open")
	}

	now = now.Add(61 * time.Second)

	if !b.Allow("groq") {
		t.Fatal("first call after the timeout should be the probe")
	}
	if b.Allow("groq") {
		t.Error("only one probe may pass while half-open")
	}
	if got := b.State("groq"); got != StateHalfOpen {
		t.Errorf("state = %q, want %q", got, StateHalfOpen)
	}
}

func TestConcurrentProbeAdmission(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)

	b.RecordFailure("groq")
	now = now.Add(61 * time.Second)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow("groq") {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("%d callers admitted as the probe, want exactly 1", admitted)
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(2, time.Minute, &now)

	b.RecordFailure("groq")
	b.RecordFailure("groq")
	now = now.Add(61 * time.Second)
	b.Allow("groq") // probe

	b.RecordSuccess("groq")

	if got := b.State("groq"); got != StateClosed {
		t.Fatalf("state = %q after probe success, want %q", got, StateClosed)
	}
	if !b.Allow("groq") {
		t.Error("closed circuit should allow calls")
	}

	// Failure count was reset: it takes a full threshold to open again
	b.RecordFailure("groq")
	if !b.Allow("groq") {
		t.Error("one failure after reset should not reopen the circuit")
	}
}

func TestProbeFailureDoublesTimeout(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)

	b.RecordFailure("groq")

	wantTimeouts := []time.Duration{
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		10 * time.Minute, // capped
		10 * time.Minute,
	}

	for i, want := range wantTimeouts {
		c := b.circuit("groq")
		c.mu.Lock()
		timeout := c.timeout
		c.mu.Unlock()

		now = now.Add(timeout)
		if !b.Allow("groq") {
			t.Fatalf("round %d: probe should be admitted after %v", i+1, timeout)
		}
		b.RecordFailure("groq")

		c.mu.Lock()
		got := c.timeout
		c.mu.Unlock()
		if got != want {
			t.Errorf("round %d: timeout = %v, want %v", i+1, got, want)
		}
		if b.Allow("groq") {
			t.Fatalf("round %d: circuit should be open again", i+1)
		}
	}
}

func TestReleaseReturnsProbeSlot(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)

	b.RecordFailure("groq")
	now = now.Add(61 * time.Second)

	if !b.Allow("groq") {
		t.Fatal("first call after the timeout should be the probe")
	}
	b.Release("groq")

	if got := b.State("groq"); got != StateOpen {
		t.Fatalf("state = %q after release, want %q", got, StateOpen)
	}

	// The elapsed wait still counts: the slot goes straight to the next
	// caller instead of starting another timeout.
	if !b.Allow("groq") {
		t.Fatal("released probe slot should be grantable again immediately")
	}
	b.RecordSuccess("groq")
	if got := b.State("groq"); got != StateClosed {
		t.Errorf("state = %q, want %q", got, StateClosed)
	}
}

func TestReleaseDoesNotDoubleTimeout(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)

	b.RecordFailure("groq")
	now = now.Add(61 * time.Second)
	b.Allow("groq")
	b.Release("groq")

	c := b.circuit("groq")
	c.mu.Lock()
	timeout := c.timeout
	c.mu.Unlock()
	if timeout != time.Minute {
		t.Errorf("timeout = %v after release, want %v (only a failed probe doubles)", timeout, time.Minute)
	}
}

func TestReleaseOutsideProbeIsNoop(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(2, time.Minute, &now)

	b.Release("groq")
	if got := b.State("groq"); got != StateClosed {
		t.Fatalf("state = %q, want %q (release on a closed circuit changes nothing)", got, StateClosed)
	}

	b.RecordFailure("groq")
	b.RecordFailure("groq")
	b.Release("groq")
	if b.Allow("groq") {
		t.Error("release must not reopen a circuit ahead of its timeout")
	}
}

func TestProbeSuccessRestoresBaseTimeout(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)

	b.RecordFailure("groq")
	now = now.Add(61 * time.Second)
	b.Allow("groq")
	b.RecordFailure("groq") // timeout now doubled

	now = now.Add(2 * time.Minute)
	b.Allow("groq")
	b.RecordSuccess("groq")

	// Back to closed with the base timeout
	b.RecordFailure("groq")
	now = now.Add(61 * time.Second)
	if !b.Allow("groq") {
		t.Error("base timeout should apply again after a successful probe")
	}
}

func TestFailureWindowPruning(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(3, time.Minute, &now)

	b.RecordFailure("groq")
	b.RecordFailure("groq")

	// Old failures age out of the rolling window
	now = now.Add(2 * time.Minute)

	b.RecordFailure("groq")
	if !b.Allow("groq") {
		t.Error("stale failures must not count toward the threshold")
	}
}

func TestSuccessClearsFailures(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(3, time.Minute, &now)

	b.RecordFailure("groq")
	b.RecordFailure("groq")
	b.RecordSuccess("groq")
	b.RecordFailure("groq")
	b.RecordFailure("groq")

	if !b.Allow("groq") {
		t.Error("failures are consecutive; a success in between restarts the count")
	}
}

func TestProvidersIndependent(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)

	b.RecordFailure("groq")

	if b.Allow("groq") {
		t.Fatal("failing provider should be open")
	}
	if !b.Allow("openrouter") {
		t.Error("other providers must be unaffected")
	}
}
