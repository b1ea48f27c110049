package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/breaker"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/keypool"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/monitor"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/providers"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/quota"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/ratelimit"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/config"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/models"
)

// Request is one resolved chat request handed over by the API layer
type Request struct {
	Prompt   string
	Tier     models.Tier
	UserID   string
	ClientIP string
}

// Deps wires the router's collaborators. Everything is built once at
// startup; the router itself adds no state beyond what these hold.
type Deps struct {
	Plan       config.RoutePlan
	Clients    map[string]providers.Client
	Limiter    ratelimit.Store
	Quota      quota.Tracker
	Keys       *keypool.Pool
	Breaker    *breaker.Breaker
	Monitor    *monitor.Monitor
	RateWindow time.Duration
}

// Router selects a provider for each request, relays its stream and handles
// transparent failover. Admission always runs first: a rejected request
// never touches a provider.
type Router struct {
	plan       config.RoutePlan
	clients    map[string]providers.Client
	limiter    ratelimit.Store
	quota      quota.Tracker
	keys       *keypool.Pool
	breaker    *breaker.Breaker
	monitor    *monitor.Monitor
	rateWindow time.Duration
}

// New creates a router from its dependencies
func New(deps Deps) *Router {
	return &Router{
		plan:       deps.Plan,
		clients:    deps.Clients,
		limiter:    deps.Limiter,
		quota:      deps.Quota,
		keys:       deps.Keys,
		breaker:    deps.Breaker,
		monitor:    deps.Monitor,
		rateWindow: deps.RateWindow,
	}
}

// Route admits the request and opens a stream from the first provider in
// the tier's fallback chain that takes the call. The returned stream keeps
// walking the chain if its provider dies before producing output.
func (r *Router) Route(ctx context.Context, req Request) (*Stream, error) {
	steps, ok := r.plan[string(req.Tier)]
	if !ok || len(steps) == 0 {
		// Startup validation makes this unreachable for real tiers
		return nil, fmt.Errorf("no fallback chain configured for tier %q", req.Tier)
	}

	if !r.limiter.Allow(ctx, ratelimit.Subject(req.UserID, req.ClientIP)) {
		return nil, models.NewRateLimited(r.rateWindow)
	}

	quotaID := req.UserID
	if quotaID == "" {
		quotaID = "anon:" + req.ClientIP
	}

	info, err := r.quota.Get(ctx, quotaID)
	if err != nil {
		log.Printf("[router] quota check failed for %s, allowing: %v", quotaID, err)
	} else if info.Used >= info.Limit {
		return nil, models.NewQuotaExceeded(info)
	}

	s := &Stream{
		router:    r,
		ctx:       ctx,
		prompt:    req.Prompt,
		quotaID:   quotaID,
		remaining: steps,
	}

	if err := s.connectNext(); err != nil {
		return nil, err
	}

	return s, nil
}

// ProviderStatus exposes the monitor's read-only health snapshot
func (r *Router) ProviderStatus() []models.ProviderStatus {
	if r.monitor == nil {
		return nil
	}
	return r.monitor.Snapshot()
}

// Quota exposes the user's current quota state
func (r *Router) Quota(ctx context.Context, userID string) (models.QuotaInfo, error) {
	return r.quota.Get(ctx, userID)
}
