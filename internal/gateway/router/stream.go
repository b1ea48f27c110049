package router

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/keypool"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/providers"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/config"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/models"
)

// Stream is the lazy chunk sequence a routed request produces. Recv returns
// the next chunk, io.EOF on clean completion, or a terminal *models.RouteError.
// A provider failure before the first chunk falls through to the next
// provider invisibly; after the first chunk the stream is pinned to its
// provider, because mixing output from two providers would corrupt the
// response. One request owns a Stream; it is not safe for concurrent use.
type Stream struct {
	router *Router
	ctx    context.Context

	prompt  string
	quotaID string

	remaining []config.RouteStep

	upstream providers.Stream
	step     config.RouteStep
	key      *keypool.Key

	chunks       int
	failover     bool
	quotaCharged bool
	done         bool
}

// connectNext walks the remaining chain until a provider accepts the call.
// Each provider is tried at most once per request. Only called while no
// chunk has been delivered yet.
func (s *Stream) connectNext() error {
	r := s.router

	for len(s.remaining) > 0 {
		step := s.remaining[0]
		s.remaining = s.remaining[1:]

		client, ok := r.clients[step.Provider]
		if !ok {
			s.failover = true
			continue
		}

		if !r.breaker.Allow(step.Provider) {
			log.Printf("[router] circuit open for %s, skipping", step.Provider)
			s.failover = true
			continue
		}

		key, err := r.keys.Select(step.Provider)
		if err != nil {
			log.Printf("[router] %s skipped: %v", step.Provider, err)
			// Allow may have granted this call the HALF_OPEN probe slot;
			// with no key to call with, hand it back.
			r.breaker.Release(step.Provider)
			s.failover = true
			continue
		}

		upstream, err := client.Stream(s.ctx, s.prompt, step.Model, key.Secret)
		if err != nil {
			if s.ctx.Err() != nil {
				// Caller went away mid-call. The attempt still counts
				// against quota but says nothing about the provider.
				r.breaker.Release(step.Provider)
				s.chargeQuota()
				s.done = true
				return s.ctx.Err()
			}

			log.Printf("[router] %s call failed, falling back: %v", step.Provider, err)
			s.recordFailure(step.Provider, key)
			s.failover = true
			continue
		}

		s.upstream = upstream
		s.step = step
		s.key = key
		return nil
	}

	s.done = true
	return models.NewAllProvidersUnavailable()
}

// Recv relays the next chunk from the active provider
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		chunk, err := s.upstream.Recv()
		if err == nil {
			s.chunks++
			return chunk, nil
		}

		if errors.Is(err, io.EOF) {
			s.finish()
			return "", io.EOF
		}

		if s.ctx.Err() != nil {
			// Caller disconnected; not the provider's fault
			s.router.breaker.Release(s.step.Provider)
			s.chargeQuota()
			s.closeUpstream()
			s.done = true
			return "", err
		}

		s.recordFailure(s.step.Provider, s.key)
		s.closeUpstream()

		if s.chunks > 0 {
			log.Printf("[router] %s stream broke after %d chunks: %v", s.step.Provider, s.chunks, err)
			s.done = true
			return "", models.NewStreamInterrupted()
		}

		log.Printf("[router] %s failed before first chunk, falling back: %v", s.step.Provider, err)
		s.failover = true
		if err := s.connectNext(); err != nil {
			return "", err
		}
	}
}

// Close aborts the stream and releases the upstream connection. Safe to
// call after completion.
func (s *Stream) Close() error {
	if !s.done {
		// Abandoned mid-stream; the provider call still happened and
		// counts against quota, but it reached no verdict the breaker
		// could use.
		s.router.breaker.Release(s.step.Provider)
		s.chargeQuota()
		s.done = true
	}
	s.closeUpstream()
	return nil
}

// Provider names the provider currently serving the stream
func (s *Stream) Provider() string {
	return s.step.Provider
}

// Model names the model currently serving the stream
func (s *Stream) Model() string {
	return s.step.Model
}

// Chunks counts the chunks delivered so far
func (s *Stream) Chunks() int {
	return s.chunks
}

// FailoverUsed reports whether any provider failed before this one served
func (s *Stream) FailoverUsed() bool {
	return s.failover
}

// finish runs the success bookkeeping once the final chunk is out, off the
// relay path
func (s *Stream) finish() {
	s.router.breaker.RecordSuccess(s.step.Provider)
	s.router.keys.ReportSuccess(s.key)
	s.chargeQuota()
	s.closeUpstream()
	s.done = true
}

func (s *Stream) recordFailure(provider string, key *keypool.Key) {
	s.router.breaker.RecordFailure(provider)
	s.router.keys.ReportFailure(key)
	s.chargeQuota()
}

// chargeQuota consumes one quota unit. It fires once per request, at the
// first provider call outcome, so skipped providers and pre-flight
// rejections never consume quota.
func (s *Stream) chargeQuota() {
	if s.quotaCharged {
		return
	}
	s.quotaCharged = true

	// Detached context: the charge applies even when the caller is gone
	if _, err := s.router.quota.Increment(context.Background(), s.quotaID); err != nil {
		log.Printf("[router] quota increment failed for %s: %v", s.quotaID, err)
	}
}

func (s *Stream) closeUpstream() {
	if s.upstream != nil {
		s.upstream.Close()
		s.upstream = nil
	}
}
