package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHuggingFaceBaseURL = "https://api-inference.huggingface.co"

// HuggingFaceProvider handles Hugging Face serverless inference requests.
// The inference API answers in one shot, so the response is exposed as a
// single-chunk stream.
type HuggingFaceProvider struct {
	baseURL    string
	httpClient *http.Client
}

// huggingFaceRequest represents a text-generation request
type huggingFaceRequest struct {
	Inputs     string                 `json:"inputs"`
	Parameters *huggingFaceParameters `json:"parameters,omitempty"`
}

// huggingFaceParameters represents generation parameters
type huggingFaceParameters struct {
	MaxNewTokens   int   `json:"max_new_tokens,omitempty"`
	ReturnFullText *bool `json:"return_full_text,omitempty"`
}

// huggingFaceResponse represents a text-generation response
type huggingFaceResponse []struct {
	GeneratedText string `json:"generated_text"`
}

// NewHuggingFaceProvider creates a new Hugging Face provider
func NewHuggingFaceProvider(timeout time.Duration) *HuggingFaceProvider {
	return &HuggingFaceProvider{
		baseURL: defaultHuggingFaceBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name
func (p *HuggingFaceProvider) Name() string {
	return "huggingface"
}

// Stream runs the inference call and wraps the generated text as a
// one-chunk stream
func (p *HuggingFaceProvider) Stream(ctx context.Context, prompt, model, apiKey string) (Stream, error) {
	returnFullText := false
	hfReq := huggingFaceRequest{
		Inputs: prompt,
		Parameters: &huggingFaceParameters{
			MaxNewTokens:   1024,
			ReturnFullText: &returnFullText,
		},
	}

	reqBody, _ := json.Marshal(hfReq)
	url := fmt.Sprintf("%s/models/%s", p.baseURL, model)
	httpReq, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HuggingFace API error: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HuggingFace API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var hfResp huggingFaceResponse
	if err := json.Unmarshal(respBody, &hfResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(hfResp) == 0 || hfResp[0].GeneratedText == "" {
		return nil, fmt.Errorf("HuggingFace returned an empty generation")
	}

	return &singleChunkStream{text: hfResp[0].GeneratedText}, nil
}

// Probe checks that the API is reachable
func (p *HuggingFaceProvider) Probe(ctx context.Context) error {
	return probeURL(ctx, p.httpClient, p.baseURL, "HuggingFace")
}

// singleChunkStream yields one chunk of text, then EOF
type singleChunkStream struct {
	text string
	done bool
}

// Recv returns the text on the first call and io.EOF afterwards
func (s *singleChunkStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

// Close closes the stream
func (s *singleChunkStream) Close() error {
	return nil
}
