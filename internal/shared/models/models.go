package models

import (
	"fmt"
	"time"
)

// Tier is a quality/speed class mapping to an ordered provider fallback chain
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierSmart    Tier = "smart"
)

// ParseTier validates a tier name from an inbound request
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFast, TierBalanced, TierSmart:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// ErrorKind classifies a routing failure for the API layer
type ErrorKind string

const (
	ErrRateLimited             ErrorKind = "rate_limited"
	ErrQuotaExceeded           ErrorKind = "quota_exceeded"
	ErrAllProvidersUnavailable ErrorKind = "all_providers_unavailable"
	ErrStreamInterrupted       ErrorKind = "stream_interrupted"
)

// UnavailableMessage is what callers see when the whole fallback chain is
// down. It never names a provider or key.
const UnavailableMessage = "GenZ AI is temporarily unavailable. Please try again shortly."

// RouteError is the structured error returned by the router. Admission
// failures carry extra context (retry delay, quota state) for the API layer.
type RouteError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Quota      *QuotaInfo
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewRateLimited builds the admission error for a rate-limited subject
func NewRateLimited(retryAfter time.Duration) *RouteError {
	return &RouteError{
		Kind:       ErrRateLimited,
		Message:    "too many requests, slow down",
		RetryAfter: retryAfter,
	}
}

// NewQuotaExceeded builds the admission error for an exhausted daily quota
func NewQuotaExceeded(info QuotaInfo) *RouteError {
	return &RouteError{
		Kind:    ErrQuotaExceeded,
		Message: "daily message quota exceeded",
		Quota:   &info,
	}
}

// NewAllProvidersUnavailable builds the terminal error for an exhausted chain
func NewAllProvidersUnavailable() *RouteError {
	return &RouteError{
		Kind:    ErrAllProvidersUnavailable,
		Message: UnavailableMessage,
	}
}

// NewStreamInterrupted builds the terminal error emitted when a provider
// fails after partial output has already been delivered
func NewStreamInterrupted() *RouteError {
	return &RouteError{
		Kind:    ErrStreamInterrupted,
		Message: "the response stream was interrupted",
	}
}

// QuotaInfo is the per-user daily quota snapshot served to clients
type QuotaInfo struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// ProviderStatus is one provider's health snapshot from the monitor
type ProviderStatus struct {
	Provider      string    `json:"provider"`
	Status        string    `json:"status"`
	UptimePercent float64   `json:"uptime_percent"`
	LastChecked   time.Time `json:"last_checked"`
}

// RequestLog is a routed request record for the usage log
type RequestLog struct {
	ID           string
	RequestID    string
	UserID       string
	Tier         string
	Provider     string
	Model        string
	Status       string
	LatencyMs    int
	FailoverUsed bool
	Chunks       int
	ErrorMessage *string
	CreatedAt    time.Time
}
