package keypool

import (
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned when every key for a provider is cooling down.
// The router skips the provider; nothing else stops.
var ErrExhausted = errors.New("all API keys are cooling down")

// maxCooldown caps the exponential backoff so a key that recovers is never
// benched for good
const maxCooldown = 15 * time.Minute

// Key is one credential with its rotation state. The state fields are
// guarded by the owning provider set's lock.
type Key struct {
	Provider string
	Secret   string

	cooldownUntil       time.Time
	consecutiveFailures int
	lastFailure         time.Time
	uses                int
}

// Pool holds the per-provider key sets. The provider map is built once at
// startup and read-only afterwards; each set carries its own lock, so
// providers never contend with each other.
type Pool struct {
	providers map[string]*keySet
	cooldown  time.Duration
	now       func() time.Time
}

type keySet struct {
	mu   sync.Mutex
	keys []*Key
}

// New builds a pool from the configured keys
func New(cooldownBase time.Duration, keysByProvider map[string][]string) *Pool {
	p := &Pool{
		providers: make(map[string]*keySet),
		cooldown:  cooldownBase,
		now:       time.Now,
	}

	for provider, secrets := range keysByProvider {
		set := &keySet{}
		for _, secret := range secrets {
			set.keys = append(set.keys, &Key{Provider: provider, Secret: secret})
		}
		p.providers[provider] = set
	}

	return p
}

// Select picks the least-recently-failed key that is not cooling down.
// Never-failed keys win over recovered ones; ties go to the least-used key
// so load spreads across the set.
func (p *Pool) Select(provider string) (*Key, error) {
	set, ok := p.providers[provider]
	if !ok {
		return nil, ErrExhausted
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	now := p.now()
	var best *Key
	for _, k := range set.keys {
		if k.cooldownUntil.After(now) {
			continue
		}
		if better(k, best) {
			best = k
		}
	}

	if best == nil {
		return nil, ErrExhausted
	}

	best.uses++
	return best, nil
}

// better reports whether a should be picked over b
func better(a, b *Key) bool {
	if b == nil {
		return true
	}

	aFailed := !a.lastFailure.IsZero()
	bFailed := !b.lastFailure.IsZero()
	if aFailed != bFailed {
		return !aFailed
	}
	if aFailed && !a.lastFailure.Equal(b.lastFailure) {
		return a.lastFailure.Before(b.lastFailure)
	}
	return a.uses < b.uses
}

// ReportFailure puts the key into cooldown: the base doubled once per
// consecutive failure already on record, capped at maxCooldown
func (p *Pool) ReportFailure(k *Key) {
	set, ok := p.providers[k.Provider]
	if !ok {
		return
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	cooldown := p.cooldown
	for i := 0; i < k.consecutiveFailures && cooldown < maxCooldown; i++ {
		cooldown *= 2
	}
	if cooldown > maxCooldown {
		cooldown = maxCooldown
	}

	now := p.now()
	k.cooldownUntil = now.Add(cooldown)
	k.lastFailure = now
	k.consecutiveFailures++
}

// ReportSuccess clears the key's cooldown and failure count. The last
// failure time stays on record so selection still favors keys with the
// cleanest recent history.
func (p *Pool) ReportSuccess(k *Key) {
	set, ok := p.providers[k.Provider]
	if !ok {
		return
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	k.consecutiveFailures = 0
	k.cooldownUntil = time.Time{}
}
