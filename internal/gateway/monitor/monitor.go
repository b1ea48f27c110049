package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/providers"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/database"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/models"
)

const (
	// uptimeWindow is how much probe history feeds the rolling uptime
	uptimeWindow = 24 * time.Hour

	// probeTimeout bounds a single health probe
	probeTimeout = 10 * time.Second
)

// Monitor probes each provider on a timer and keeps a trailing-window
// success ratio per provider. It is purely observational: routing decisions
// never consult it, the circuit breaker is the only gate.
type Monitor struct {
	clients  []providers.Client
	interval time.Duration
	db       *database.DB

	mu    sync.RWMutex
	stats map[string]*providerStats

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type providerStats struct {
	samples     []probeSample
	lastChecked time.Time
	lastOK      bool
}

type probeSample struct {
	at time.Time
	ok bool
}

// New creates a monitor. db may be nil; snapshots are then kept in memory
// only.
func New(clients []providers.Client, interval time.Duration, db *database.DB) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		clients:  clients,
		interval: interval,
		db:       db,
		stats:    make(map[string]*providerStats),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the probe loop. The first sweep runs immediately so status
// is available right after boot.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop cancels the loop and waits for it to exit
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	m.sweep(m.ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep(m.ctx)
		}
	}
}

// sweep probes every provider once. A failed probe is logged and counted,
// nothing more; the loop itself never dies with it.
func (m *Monitor) sweep(ctx context.Context) {
	for _, client := range m.clients {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := client.Probe(probeCtx)
		cancel()

		if err != nil {
			log.Printf("[monitor] %s probe failed: %v", client.Name(), err)
		}
		m.record(client.Name(), err == nil)
	}

	m.persist(ctx)
}

func (m *Monitor) record(provider string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, found := m.stats[provider]
	if !found {
		st = &providerStats{}
		m.stats[provider] = st
	}

	now := m.now()
	cutoff := now.Add(-uptimeWindow)

	valid := st.samples[:0]
	for _, s := range st.samples {
		if s.at.After(cutoff) {
			valid = append(valid, s)
		}
	}
	st.samples = append(valid, probeSample{at: now, ok: ok})
	st.lastChecked = now
	st.lastOK = ok
}

// Snapshot returns a copy of every provider's current status, in the order
// the providers were registered
func (m *Monitor) Snapshot() []models.ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]models.ProviderStatus, 0, len(m.clients))
	for _, client := range m.clients {
		st, found := m.stats[client.Name()]
		if !found {
			// Not probed yet; assume healthy until proven otherwise
			statuses = append(statuses, models.ProviderStatus{
				Provider:      client.Name(),
				Status:        "up",
				UptimePercent: 100,
			})
			continue
		}

		status := "up"
		if !st.lastOK {
			status = "down"
		}

		statuses = append(statuses, models.ProviderStatus{
			Provider:      client.Name(),
			Status:        status,
			UptimePercent: uptime(st.samples),
			LastChecked:   st.lastChecked,
		})
	}

	return statuses
}

func uptime(samples []probeSample) float64 {
	if len(samples) == 0 {
		return 100
	}

	up := 0
	for _, s := range samples {
		if s.ok {
			up++
		}
	}
	return float64(up) / float64(len(samples)) * 100
}

// persist mirrors the snapshot into Postgres when a database is configured
func (m *Monitor) persist(ctx context.Context) {
	if m.db == nil {
		return
	}

	for _, status := range m.Snapshot() {
		if err := m.db.UpsertProviderStatus(ctx, status); err != nil {
			log.Printf("[monitor] failed to persist status for %s: %v", status.Provider, err)
			return
		}
	}
}
