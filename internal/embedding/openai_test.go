package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func writeEmbedding(w http.ResponseWriter, vec []float32) {
	resp := embeddingResponse{Object: "list", Model: "test-model"}
	if vec != nil {
		resp.Data = append(resp.Data, struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Object: "embedding", Embedding: vec})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestOpenAIProvider_Embed(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3, 0.4}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "test-model" || len(body.Input) != 1 || body.Input[0] != "scope 1 emissions" {
			t.Errorf("unexpected request body: %+v", body)
		}
		writeEmbedding(w, want)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	got, err := p.Embed(context.Background(), "test-model", "scope 1 emissions")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d dimensions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %f, want %f", i, got[i], want[i])
		}
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestOpenAIProvider_classifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, KindRateLimit},
		{"server error", http.StatusInternalServerError, ``, KindUnavailable},
		{"bad gateway", http.StatusBadGateway, `{"detail":"upstream"}`, KindUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"input too long","type":"invalid_request_error"}}`, KindInvalidInput},
		{"unauthorized", http.StatusUnauthorized, `{"detail":"bad key"}`, KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
			_, err := p.Embed(context.Background(), "m", "text")
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("got %T %v, want *ProviderError", err, err)
			}
			if pe.Kind != tt.want {
				t.Errorf("kind = %s, want %s", pe.Kind, tt.want)
			}
			if pe.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", pe.StatusCode, tt.status)
			}
		})
	}
}

func TestOpenAIProvider_emptyResponseIsInvalidInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, nil)
	}))
	defer server.Close()

	_, err := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL}).Embed(context.Background(), "m", "text")
	if KindOf(err) != KindInvalidInput {
		t.Errorf("got %v, want invalid-input", err)
	}
}

func TestOpenAIProvider_timeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL}).Embed(ctx, "m", "text")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if KindOf(err) != KindUnavailable {
		t.Errorf("kind = %s, want unavailable", KindOf(err))
	}
}

func TestKind_Retryable(t *testing.T) {
	if !KindRateLimit.Retryable() || !KindUnavailable.Retryable() {
		t.Error("rate-limit and unavailable should retry")
	}
	if KindInvalidInput.Retryable() {
		t.Error("invalid-input must not retry")
	}
}
