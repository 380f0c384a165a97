package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/plokeai/ploke/internal/perr"
)

const openRouterDefaultBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter is the remote HTTP embedding backend. Its retry/backoff and
// response-validation rules are ported line-for-line from the original
// Rust OpenRouterBackend (original_source providers/openrouter.rs): a
// bounded concurrency gate, an optional RPS limiter, exponential backoff
// with error-class-dependent retryability, and a strict index-ordered
// response validator.
type OpenRouter struct {
	model             string
	dimensions        int
	requestDimensions int
	inputType         string
	baseURL           string
	apiKey            string
	httpClient        *http.Client
	gate              *gate
	retry             RetryConfig
}

// NewOpenRouter builds an OpenRouter backend from cfg. TimeoutSecs governs
// the overall per-request timeout; the connect timeout is kept shorter
// (a quarter of it, at least two seconds).
func NewOpenRouter(cfg Config) *OpenRouter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openRouterDefaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	connectTimeout := timeout / 4
	if connectTimeout < 2*time.Second {
		connectTimeout = 2 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}
	return &OpenRouter{
		model:             cfg.Model,
		dimensions:        cfg.Dimensions,
		requestDimensions: cfg.RequestDimensions,
		inputType:         cfg.InputType,
		baseURL:           strings.TrimRight(baseURL, "/"),
		apiKey:            cfg.APIKey,
		httpClient:        &http.Client{Timeout: timeout, Transport: transport},
		gate:              newGate(cfg.MaxInFlight, cfg.RequestsPerSecond),
		retry:             cfg.retryConfig(),
	}
}

func (o *OpenRouter) Dimensions() int   { return o.dimensions }
func (o *OpenRouter) ModelName() string { return o.model }

type openRouterRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
	InputType  string   `json:"input_type,omitempty"`
}

type openRouterItem struct {
	Index     int             `json:"index"`
	Embedding json.RawMessage `json:"embedding"`
}

type openRouterResponse struct {
	Model string           `json:"model"`
	Data  []openRouterItem `json:"data"`
}

type openRouterAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type openRouterErrorEnvelope struct {
	Error openRouterAPIError `json:"error"`
}

// classifyAPIError turns an HTTP status + decoded API error body into the
// matching PlokeError, mirroring the original's OpenRouterEmbeddingError
// variants: BadRequest/Unauthorized/PaymentRequired/ProviderNotFound are
// immediately fatal, RateLimited/ProviderOverloaded/Decode are retryable.
func classifyAPIError(status int, apiErr *openRouterAPIError, model string) *perr.PlokeError {
	switch status {
	case http.StatusBadRequest:
		return perr.BadRequest(apiErr.Message)
	case http.StatusUnauthorized:
		return perr.Unauthorized(apiErr.Message)
	case http.StatusPaymentRequired:
		return perr.PaymentRequired(apiErr.Message)
	case http.StatusNotFound:
		return perr.ProviderNotFound(model)
	case http.StatusTooManyRequests:
		return perr.RateLimited(0)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return perr.ProviderOverloaded()
	default:
		e := perr.Decode(status, apiErr.Message)
		e.Message += ": " + apiErr.Message
		return e
	}
}

// ComputeBatch embeds snippets, retrying transient failures with backoff
// and validating the ordered response before returning.
func (o *OpenRouter) ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error) {
	if len(snippets) == 0 {
		return [][]float32{}, nil
	}
	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		vectors, err := o.tryOnce(ctx, snippets, attempt)
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
		delay := o.retry.BackoffForAttempt(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("openrouter: exhausted %d attempts: %w", o.retry.MaxAttempts, lastErr)
}

// tryOnce performs a single HTTP round trip. The one-shot "retry without
// dimensions" rule fires inline here on attempt 1 only: a 404 whose
// message names "No successful provider responses" while a dimensions
// field equal to the configured dimension was sent is retried
// immediately with the field left out, without counting against
// MaxAttempts and without backoff.
func (o *OpenRouter) tryOnce(ctx context.Context, snippets []string, attempt int) ([][]float32, error) {
	release, err := o.gate.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vectors, status, apiErr, transportErr := o.send(ctx, snippets, o.requestDimensions)
	if transportErr != nil {
		return nil, perr.Transport(transportErr)
	}

	if apiErr != nil {
		if attempt == 1 && status == http.StatusNotFound && o.requestDimensions != 0 &&
			o.requestDimensions == o.dimensions &&
			strings.Contains(apiErr.Message, "No successful provider responses") {
			vectors, status, apiErr, transportErr = o.send(ctx, snippets, 0)
			if transportErr != nil {
				return nil, perr.Transport(transportErr)
			}
			if apiErr == nil {
				return vectors, nil
			}
		}
		return nil, classifyAPIError(status, apiErr, o.model)
	}

	return vectors, nil
}

func (o *OpenRouter) send(ctx context.Context, snippets []string, dimensions int) (vectors [][]float32, status int, apiErr *openRouterAPIError, transportErr error) {
	reqBody := openRouterRequest{
		Model:     o.model,
		Input:     snippets,
		InputType: o.inputType,
	}
	if dimensions != 0 {
		d := dimensions
		reqBody.Dimensions = &d
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var envelope openRouterErrorEnvelope
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error.Message != "" {
			return nil, resp.StatusCode, &envelope.Error, nil
		}
		return nil, resp.StatusCode, &openRouterAPIError{Code: resp.StatusCode, Message: string(body)}, nil
	}

	var decoded openRouterResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, resp.StatusCode, &openRouterAPIError{Code: resp.StatusCode, Message: "decode: " + err.Error()}, nil
	}

	vectors, err = validateAndReorder(decoded, len(snippets), o.dimensions)
	if err != nil {
		return nil, resp.StatusCode, &openRouterAPIError{Code: resp.StatusCode, Message: err.Error()}, nil
	}
	return vectors, resp.StatusCode, nil, nil
}

// validateAndReorder enforces the original's strict response contract:
// the response length must match the request, every index must be
// present exactly once and in range, embeddings must be float-encoded
// (never base64), non-empty, of the configured dimension, and every
// float finite.
func validateAndReorder(resp openRouterResponse, expected int, dimensions int) ([][]float32, error) {
	if len(resp.Data) != expected {
		return nil, fmt.Errorf("response length %d does not match request length %d", len(resp.Data), expected)
	}

	ordered := make([][]float32, expected)
	filled := make([]bool, expected)

	sorted := make([]openRouterItem, len(resp.Data))
	copy(sorted, resp.Data)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for _, item := range sorted {
		if item.Index < 0 || item.Index >= expected {
			return nil, fmt.Errorf("index %d out of range [0,%d)", item.Index, expected)
		}
		if filled[item.Index] {
			return nil, fmt.Errorf("duplicate index %d in response", item.Index)
		}

		var floats []float32
		if err := json.Unmarshal(item.Embedding, &floats); err != nil {
			return nil, fmt.Errorf("index %d: embedding is not a float array (base64 or malformed encoding rejected): %w", item.Index, err)
		}
		if len(floats) == 0 {
			return nil, fmt.Errorf("index %d: empty embedding", item.Index)
		}
		if dimensions > 0 && len(floats) != dimensions {
			return nil, fmt.Errorf("index %d: embedding has %d dimensions, expected %d", item.Index, len(floats), dimensions)
		}
		for _, f := range floats {
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				return nil, fmt.Errorf("index %d: embedding contains non-finite value", item.Index)
			}
		}

		ordered[item.Index] = floats
		filled[item.Index] = true
	}

	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return ordered, nil
}
