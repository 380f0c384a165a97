package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plokeai/ploke/internal/perr"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAI is a remote embedding backend for the OpenAI-compatible
// embeddings endpoint. It shares the generic gate/retry/validate shape
// with OpenRouter but without OpenRouter's one-shot dimensions-retry
// quirk, which is specific to OpenRouter's model-routing layer.
type OpenAI struct {
	model      string
	dimensions int
	baseURL    string
	apiKey     string
	httpClient *http.Client
	gate       *gate
	retry      RetryConfig
}

func NewOpenAI(cfg Config) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		gate:       newGate(cfg.MaxInFlight, cfg.RequestsPerSecond),
		retry:      cfg.retryConfig(),
	}
}

func (o *OpenAI) Dimensions() int   { return o.dimensions }
func (o *OpenAI) ModelName() string { return o.model }

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openAIItem struct {
	Index     int             `json:"index"`
	Embedding json.RawMessage `json:"embedding"`
}

type openAIResponse struct {
	Model string       `json:"model"`
	Data  []openAIItem `json:"data"`
}

func (o *OpenAI) ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error) {
	if len(snippets) == 0 {
		return [][]float32{}, nil
	}
	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		vectors, err := o.tryOnce(ctx, snippets)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !perr.IsRetryable(err) {
			return nil, err
		}
		if attempt == o.retry.MaxAttempts {
			break
		}
		select {
		case <-time.After(o.retry.BackoffForAttempt(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("openai: exhausted %d attempts: %w", o.retry.MaxAttempts, lastErr)
}

func (o *OpenAI) tryOnce(ctx context.Context, snippets []string) ([][]float32, error) {
	release, err := o.gate.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	reqBody := openAIRequest{Model: o.model, Input: snippets}
	if o.dimensions > 0 {
		d := o.dimensions
		reqBody.Dimensions = &d
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, perr.Transport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.Transport(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, perr.BadRequest(string(body))
	case http.StatusUnauthorized:
		return nil, perr.Unauthorized(string(body))
	case http.StatusPaymentRequired:
		return nil, perr.PaymentRequired(string(body))
	case http.StatusNotFound:
		return nil, perr.ProviderNotFound(o.model)
	case http.StatusTooManyRequests:
		return nil, perr.RateLimited(0)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return nil, perr.ProviderOverloaded()
	default:
		return nil, perr.Decode(resp.StatusCode, string(body))
	}

	var decoded openAIResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, perr.Decode(resp.StatusCode, err.Error())
	}

	resolved := openRouterResponse{Model: decoded.Model, Data: make([]openRouterItem, len(decoded.Data))}
	for i, item := range decoded.Data {
		resolved.Data[i] = openRouterItem{Index: item.Index, Embedding: item.Embedding}
	}
	return validateAndReorder(resolved, len(snippets), o.dimensions)
}
