package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plokeai/ploke/internal/perr"
)

const localDefaultBaseURL = "http://localhost:11434"

// Local talks to a locally-hosted embedding server (an Ollama-compatible
// HTTP API). It never retries or rate-limits: a local daemon on localhost
// has no quota to respect and a failure there is a configuration problem,
// not a transient one worth backing off.
type Local struct {
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

func NewLocal(cfg Config) *Local {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = localDefaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 180 * time.Second // local models can be cold-loaded
	}
	return &Local{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (l *Local) Dimensions() int   { return l.dimensions }
func (l *Local) ModelName() string { return l.model }

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (l *Local) ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error) {
	if len(snippets) == 0 {
		return [][]float32{}, nil
	}

	payload, err := json.Marshal(localEmbedRequest{Model: l.model, Input: snippets})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return nil, perr.Transport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.Transport(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, perr.Decode(resp.StatusCode, string(body))
	}

	var decoded localEmbedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, perr.Decode(resp.StatusCode, err.Error())
	}
	if len(decoded.Embeddings) != len(snippets) {
		return nil, perr.DimensionMismatch(len(snippets), len(decoded.Embeddings))
	}
	for _, vec := range decoded.Embeddings {
		if l.dimensions > 0 && len(vec) != l.dimensions {
			return nil, perr.DimensionMismatch(l.dimensions, len(vec))
		}
	}
	return decoded.Embeddings, nil
}
