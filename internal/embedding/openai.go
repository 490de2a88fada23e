package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/metrics"
)

const openAIProviderName = "openai"

// OpenAIConfig holds the settings for an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Dimensions int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// OpenAIProvider embeds text through an OpenAI-compatible API. It performs exactly one
// request per call; retries belong to the caller.
type OpenAIProvider struct {
	client     *openai.Client
	dimensions int
	logger     *zap.Logger
}

// NewOpenAIProvider creates the network-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string {
	return openAIProviderName
}

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if p.dimensions > 0 {
		req.Dimensions = p.dimensions
	}

	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		perr := classify(ctx, err)
		metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProviderName, model, string(perr.Kind)).Inc()
		p.logger.Debug("embedding request failed",
			zap.String("model", model),
			zap.String("kind", string(perr.Kind)),
			zap.Int("status", perr.StatusCode),
			zap.Error(err))
		return nil, perr
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProviderName, model, string(KindInvalidInput)).Inc()
		return nil, &ProviderError{
			Provider: openAIProviderName,
			Kind:     KindInvalidInput,
			Err:      errors.New("empty embedding response"),
		}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProviderName, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(openAIProviderName, model).Observe(time.Since(start).Seconds())
	return resp.Data[0].Embedding, nil
}

// classify maps a client error to a ProviderError.
// 429 is rate-limit; 5xx, transport failures and timeouts are unavailable; other 4xx are invalid-input.
func classify(ctx context.Context, err error) *ProviderError {
	pe := &ProviderError{Provider: openAIProviderName, Kind: KindUnavailable, Err: err}

	status := 0
	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		pe.Err = fmt.Errorf("%s", apiErr.Message)
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		if detail := extractDetail(reqErr.Body); detail != "" {
			pe.Err = fmt.Errorf("%s", detail)
		}
	}
	pe.StatusCode = status

	switch {
	case status == http.StatusTooManyRequests:
		pe.Kind = KindRateLimit
	case status >= 500:
		pe.Kind = KindUnavailable
	case status >= 400:
		pe.Kind = KindInvalidInput
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		pe.Kind = KindUnavailable
	}
	return pe
}

// extractDetail extracts the "detail" field some compatible servers put in error bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
