package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sseBody(chunks ...string) string {
	var b strings.Builder
	b.WriteString(`data: {"id":"1","object":"chat.completion.chunk","created":1700000000,"model":"m","choices":[{"index":0,"delta":{"role":"assistant"}}]}` + "\n\n")
	for _, chunk := range chunks {
		fmt.Fprintf(&b, `data: {"id":"1","object":"chat.completion.chunk","created":1700000000,"model":"m","choices":[{"index":0,"delta":{"content":"%s"}}]}`+"\n\n", chunk)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestGroqStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody("Hello", " world"))
	}))
	defer srv.Close()

	p := &GroqProvider{baseURL: srv.URL, httpClient: srv.Client()}

	stream, err := p.Stream(context.Background(), "hi", "llama-3.1-8b-instant", "k1")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var chunks []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	// The role-only chunk is skipped; only content comes through
	if len(chunks) != 2 || chunks[0] != "Hello" || chunks[1] != " world" {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestGroqStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	p := &GroqProvider{baseURL: srv.URL, httpClient: srv.Client()}

	if _, err := p.Stream(context.Background(), "hi", "m", "k1"); err == nil {
		t.Fatal("expected an error for a 429 response")
	}
}

func TestOpenRouterAttributionHeaders(t *testing.T) {
	var referer, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody("ok"))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider("https://genz-ai.app", 5*time.Second)
	p.baseURL = srv.URL

	stream, err := p.Stream(context.Background(), "hi", "openai/gpt-4o-mini", "k1")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	stream.Close()

	if referer != "https://genz-ai.app" {
		t.Errorf("HTTP-Referer = %q", referer)
	}
	if title != "GenZ AI" {
		t.Errorf("X-Title = %q", title)
	}
}

func TestHuggingFaceStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/models/mistralai/Mistral-7B-Instruct-v0.2" {
			t.Errorf("path = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hf-key" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, `[{"generated_text":"hello from hf"}]`)
	}))
	defer srv.Close()

	p := &HuggingFaceProvider{baseURL: srv.URL, httpClient: srv.Client()}

	stream, err := p.Stream(context.Background(), "hi", "mistralai/Mistral-7B-Instruct-v0.2", "hf-key")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if chunk != "hello from hf" {
		t.Errorf("chunk = %q", chunk)
	}

	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("second Recv = %v, want io.EOF", err)
	}
}

func TestHuggingFaceStreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"service unavailable", http.StatusServiceUnavailable, `{"error":"model loading"}`},
		{"empty generation", http.StatusOK, `[]`},
		{"malformed body", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p := &HuggingFaceProvider{baseURL: srv.URL, httpClient: srv.Client()}

			if _, err := p.Stream(context.Background(), "hi", "m", "k"); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestProbe(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized) // reachable counts as up
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	healthy := &GroqProvider{baseURL: up.URL, httpClient: up.Client()}
	if err := healthy.Probe(context.Background()); err != nil {
		t.Errorf("Probe against reachable API: %v", err)
	}

	failing := &GroqProvider{baseURL: down.URL, httpClient: down.Client()}
	if err := failing.Probe(context.Background()); err == nil {
		t.Error("Probe should fail on a 5xx response")
	}
}

func TestProviderNames(t *testing.T) {
	if got := NewGroqProvider(time.Second).Name(); got != "groq" {
		t.Errorf("groq Name() = %q", got)
	}
	if got := NewOpenRouterProvider("", time.Second).Name(); got != "openrouter" {
		t.Errorf("openrouter Name() = %q", got)
	}
	if got := NewHuggingFaceProvider(time.Second).Name(); got != "huggingface" {
		t.Errorf("huggingface Name() = %q", got)
	}
}
