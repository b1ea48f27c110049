package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqProvider handles Groq API requests. Groq speaks the OpenAI chat
// completions protocol, so the OpenAI client is pointed at Groq's base URL.
type GroqProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewGroqProvider creates a new Groq provider
func NewGroqProvider(timeout time.Duration) *GroqProvider {
	return &GroqProvider{
		baseURL: defaultGroqBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name
func (p *GroqProvider) Name() string {
	return "groq"
}

// Stream starts a streaming chat completion request
func (p *GroqProvider) Stream(ctx context.Context, prompt, model, apiKey string) (Stream, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	}

	stream, err := p.newClient(apiKey).CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Groq streaming API error: %w", err)
	}

	return &openAIStream{stream: stream}, nil
}

// Probe checks that the API is reachable. No key is attached; a 401 still
// proves the service is up.
func (p *GroqProvider) Probe(ctx context.Context) error {
	return probeURL(ctx, p.httpClient, p.baseURL+"/models", "Groq")
}

// newClient builds a per-call client so the rotated key applies. The HTTP
// client with its timeout is shared.
func (p *GroqProvider) newClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.baseURL
	cfg.HTTPClient = p.httpClient
	return openai.NewClientWithConfig(cfg)
}

// openAIStream adapts an OpenAI-protocol stream to plain text chunks
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

// Recv reads the next content delta, skipping role-only and empty chunks
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

// Close closes the stream
func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}

// probeURL performs the shared reachability check: transport errors and 5xx
// responses count as down, anything else as up
func probeURL(ctx context.Context, client *http.Client, url, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s health check returned status %d", name, resp.StatusCode)
	}

	return nil
}
