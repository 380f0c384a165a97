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

const huggingFaceDefaultBaseURL = "https://api-inference.huggingface.co"

// HuggingFace calls the HF Inference API's feature-extraction endpoint,
// which returns a plain array of vectors (no per-item index envelope), so
// validation here is positional rather than index-keyed.
type HuggingFace struct {
	model      string
	dimensions int
	baseURL    string
	apiKey     string
	httpClient *http.Client
	gate       *gate
	retry      RetryConfig
}

func NewHuggingFace(cfg Config) *HuggingFace {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = huggingFaceDefaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HuggingFace{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		gate:       newGate(cfg.MaxInFlight, cfg.RequestsPerSecond),
		retry:      cfg.retryConfig(),
	}
}

func (h *HuggingFace) Dimensions() int   { return h.dimensions }
func (h *HuggingFace) ModelName() string { return h.model }

type huggingFaceRequest struct {
	Inputs  []string        `json:"inputs"`
	Options map[string]bool `json:"options,omitempty"`
}

func (h *HuggingFace) ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error) {
	if len(snippets) == 0 {
		return [][]float32{}, nil
	}
	var lastErr error
	for attempt := 1; attempt <= h.retry.MaxAttempts; attempt++ {
		vectors, err := h.tryOnce(ctx, snippets)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !perr.IsRetryable(err) {
			return nil, err
		}
		if attempt == h.retry.MaxAttempts {
			break
		}
		select {
		case <-time.After(h.retry.BackoffForAttempt(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("huggingface: exhausted %d attempts: %w", h.retry.MaxAttempts, lastErr)
}

func (h *HuggingFace) tryOnce(ctx context.Context, snippets []string) ([][]float32, error) {
	release, err := h.gate.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	payload, err := json.Marshal(huggingFaceRequest{
		Inputs:  snippets,
		Options: map[string]bool{"wait_for_model": true},
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/pipeline/feature-extraction/"+h.model, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.httpClient.Do(httpReq)
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
		return nil, perr.ProviderNotFound(h.model)
	case http.StatusTooManyRequests:
		return nil, perr.RateLimited(0)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return nil, perr.ProviderOverloaded()
	default:
		return nil, perr.Decode(resp.StatusCode, string(body))
	}

	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, perr.Decode(resp.StatusCode, err.Error())
	}
	if len(vectors) != len(snippets) {
		return nil, perr.DimensionMismatch(len(snippets), len(vectors))
	}
	for _, vec := range vectors {
		if len(vec) == 0 {
			return nil, perr.Decode(resp.StatusCode, "empty embedding in response")
		}
		if h.dimensions > 0 && len(vec) != h.dimensions {
			return nil, perr.DimensionMismatch(h.dimensions, len(vec))
		}
	}
	return vectors, nil
}
