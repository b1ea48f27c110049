package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider handles OpenRouter API requests. OpenRouter is
// OpenAI-compatible but wants app attribution headers on every request.
type OpenRouterProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenRouterProvider creates a new OpenRouter provider. appURL goes out
// as the HTTP-Referer attribution header.
func NewOpenRouterProvider(appURL string, timeout time.Duration) *OpenRouterProvider {
	return &OpenRouterProvider{
		baseURL: defaultOpenRouterBaseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &attributionTransport{appURL: appURL},
		},
	}
}

// Name returns the provider name
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// Stream starts a streaming chat completion request
func (p *OpenRouterProvider) Stream(ctx context.Context, prompt, model, apiKey string) (Stream, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	}

	stream, err := p.newClient(apiKey).CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenRouter streaming API error: %w", err)
	}

	return &openAIStream{stream: stream}, nil
}

// Probe checks that the API is reachable
func (p *OpenRouterProvider) Probe(ctx context.Context) error {
	return probeURL(ctx, p.httpClient, p.baseURL+"/models", "OpenRouter")
}

func (p *OpenRouterProvider) newClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.baseURL
	cfg.HTTPClient = p.httpClient
	return openai.NewClientWithConfig(cfg)
}

// attributionTransport injects OpenRouter's app attribution headers
type attributionTransport struct {
	base   http.RoundTripper
	appURL string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", t.appURL)
	req.Header.Set("X-Title", "GenZ AI")

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
