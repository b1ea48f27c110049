package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/redis"
)

// Store decides whether a subject may proceed right now
type Store interface {
	Allow(ctx context.Context, subject string) bool
	Stop()
}

// Subject builds the rate-limit key for a request: authenticated requests
// are limited per user, anonymous ones per client IP
func Subject(userID, clientIP string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP
}

// sweepInterval is how often idle subjects are evicted from memory
const sweepInterval = time.Minute

// Limiter is the in-memory sliding-window store. Each subject owns its own
// timestamp window and lock; the registry lock is only held to look windows
// up, so unrelated subjects never serialize against each other.
type Limiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	subjects map[string]*window

	now  func() time.Time
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
	gone   bool
}

// New creates an in-memory limiter and starts its background sweep
func New(limit int, windowSize time.Duration) *Limiter {
	l := &Limiter{
		limit:    limit,
		window:   windowSize,
		subjects: make(map[string]*window),
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	l.wg.Add(1)
	go l.sweepLoop()

	return l
}

// Allow reports whether the subject has capacity left in the current window
// and, if so, records the event. Check and append happen under the subject's
// own lock, so concurrent calls for one subject are linearizable.
func (l *Limiter) Allow(_ context.Context, subject string) bool {
	for {
		w := l.windowFor(subject)

		w.mu.Lock()
		if w.gone {
			// Swept out between lookup and lock; take a fresh window
			w.mu.Unlock()
			continue
		}

		now := l.now()
		cutoff := now.Add(-l.window)

		valid := w.stamps[:0]
		for _, ts := range w.stamps {
			if ts.After(cutoff) {
				valid = append(valid, ts)
			}
		}
		w.stamps = valid

		if len(w.stamps) >= l.limit {
			w.mu.Unlock()
			return false
		}

		w.stamps = append(w.stamps, now)
		w.mu.Unlock()
		return true
	}
}

// Stop terminates the background sweep
func (l *Limiter) Stop() {
	l.once.Do(func() {
		close(l.stop)
	})
	l.wg.Wait()
}

func (l *Limiter) windowFor(subject string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.subjects[subject]
	if !ok {
		w = &window{}
		l.subjects[subject] = w
	}
	return w
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.removeIdle()
		}
	}
}

// removeIdle drops subjects whose windows hold no live timestamps. It locks
// one subject at a time, never the whole table at once with a window lock
// held, so in-flight Allow calls keep moving.
func (l *Limiter) removeIdle() {
	l.mu.Lock()
	subjects := make([]string, 0, len(l.subjects))
	for subject := range l.subjects {
		subjects = append(subjects, subject)
	}
	l.mu.Unlock()

	cutoff := l.now().Add(-l.window)

	for _, subject := range subjects {
		l.mu.Lock()
		w, ok := l.subjects[subject]
		if !ok {
			l.mu.Unlock()
			continue
		}

		w.mu.Lock()
		live := false
		for _, ts := range w.stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			w.gone = true
			delete(l.subjects, subject)
		}
		w.mu.Unlock()
		l.mu.Unlock()
	}
}

// RedisStore is the Redis-backed sliding-window store used when the gateway
// runs with shared state. Redis being down must not take chat down with it,
// so errors are logged and the request is allowed through.
type RedisStore struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, limit int, windowSize time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		limit:  limit,
		window: windowSize,
	}
}

// Allow checks the subject's sliding window in Redis, failing open on error
func (s *RedisStore) Allow(ctx context.Context, subject string) bool {
	allowed, err := s.client.AllowSlidingWindow(ctx, subject, s.limit, s.window)
	if err != nil {
		log.Printf("[ratelimit] redis check failed, allowing request: %v", err)
		return true
	}
	return allowed
}

// Stop is a no-op; Redis keys expire on their own
func (s *RedisStore) Stop() {}
