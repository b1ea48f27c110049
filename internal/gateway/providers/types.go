package providers

import (
	"context"
)

// Stream yields text chunks as the provider produces them. Recv returns
// io.EOF on clean completion.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client is the capability the router needs from an upstream provider. The
// API key comes in per call so rotated keys take effect immediately.
type Client interface {
	Name() string
	Stream(ctx context.Context, prompt, model, apiKey string) (Stream, error)
	Probe(ctx context.Context) error
}
