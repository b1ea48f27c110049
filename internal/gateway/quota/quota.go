package quota

import (
	"context"
	"sync"
	"time"

	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/models"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/redis"
)

// Tracker counts a user's requests against their daily quota. Increment must
// be atomic at the storage layer: under N concurrent calls for one user the
// final count is exactly N.
type Tracker interface {
	Increment(ctx context.Context, userID string) (int, error)
	Get(ctx context.Context, userID string) (models.QuotaInfo, error)
}

const (
	dayFormat = "2006-01-02"
	dailyTTL  = 48 * time.Hour
)

// MemoryTracker is the in-process tracker. Counters reset lazily at UTC
// midnight: an expired window reads as zero and the next increment commits
// the new window, so no scheduled reset job exists.
type MemoryTracker struct {
	limit int

	mu    sync.Mutex
	users map[string]*userCount

	now func() time.Time
}

type userCount struct {
	mu          sync.Mutex
	used        int
	windowStart time.Time
}

// NewMemoryTracker creates an in-process tracker
func NewMemoryTracker(limit int) *MemoryTracker {
	return &MemoryTracker{
		limit: limit,
		users: make(map[string]*userCount),
		now:   time.Now,
	}
}

// Increment adds one use under the user's own lock and returns the new count
func (t *MemoryTracker) Increment(_ context.Context, userID string) (int, error) {
	u := t.userFor(userID)

	u.mu.Lock()
	defer u.mu.Unlock()

	now := t.now().UTC()
	if !now.Before(u.windowStart.Add(24 * time.Hour)) {
		u.used = 0
		u.windowStart = midnightUTC(now)
	}

	u.used++
	return u.used, nil
}

// Get reports the user's current quota state. An expired window reads as
// zero without being committed; Increment owns the actual reset.
func (t *MemoryTracker) Get(_ context.Context, userID string) (models.QuotaInfo, error) {
	u := t.userFor(userID)

	u.mu.Lock()
	defer u.mu.Unlock()

	now := t.now().UTC()
	used := u.used
	start := u.windowStart
	if !now.Before(start.Add(24 * time.Hour)) {
		used = 0
		start = midnightUTC(now)
	}

	return quotaInfo(used, t.limit, start.Add(24*time.Hour)), nil
}

func (t *MemoryTracker) userFor(userID string) *userCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		u = &userCount{windowStart: midnightUTC(t.now().UTC())}
		t.users[userID] = u
	}
	return u
}

// RedisTracker keys each user's counter by UTC day, so the midnight reset
// falls out of the key itself and INCR carries the atomicity.
type RedisTracker struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

// NewRedisTracker creates a Redis-backed tracker
func NewRedisTracker(client *redis.Client, limit int) *RedisTracker {
	return &RedisTracker{
		client: client,
		limit:  limit,
		now:    time.Now,
	}
}

// Increment atomically bumps today's counter for the user
func (t *RedisTracker) Increment(ctx context.Context, userID string) (int, error) {
	now := t.now().UTC()
	count, err := t.client.IncrDaily(ctx, userID, now.Format(dayFormat), dailyTTL)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Get reads today's counter for the user
func (t *RedisTracker) Get(ctx context.Context, userID string) (models.QuotaInfo, error) {
	now := t.now().UTC()
	count, err := t.client.GetDaily(ctx, userID, now.Format(dayFormat))
	if err != nil {
		return models.QuotaInfo{}, err
	}
	return quotaInfo(int(count), t.limit, midnightUTC(now).Add(24*time.Hour)), nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func quotaInfo(used, limit int, resetsAt time.Time) models.QuotaInfo {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return models.QuotaInfo{
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetsAt:  resetsAt,
	}
}
