package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOpenAIDims  = 1536
	openAIEmbedURL     = "https://api.openai.com/v1/embeddings"
	openAIMaxRetries   = 3
)

// OpenAIEmbedder produces embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey  string
	model   string
	dims    int
	client  *http.Client
	baseURL string // configurable for testing; defaults to openAIEmbedURL
}

// NewOpenAIEmbedder creates an OpenAI embedding provider. model may be
// empty (defaults to text-embedding-3-small), dims may be 0 (1536).
func NewOpenAIEmbedder(apiKey, model string, dims int) *OpenAIEmbedder {
	if model == "" {
		model = defaultOpenAIModel
	}
	if dims <= 0 {
		dims = defaultOpenAIDims
	}
	return &OpenAIEmbedder{
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: openAIEmbedURL,
	}
}

func (o *OpenAIEmbedder) Name() string    { return "openai:" + o.model }
func (o *OpenAIEmbedder) Dimensions() int { return o.dims }

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends texts to the OpenAI embeddings API and returns vectors.
// Transient failures are retried with exponential backoff.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openAIEmbedRequest{
		Model:      o.model,
		Input:      texts,
		Dimensions: o.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: marshal request: %w", err)
	}

	var resp openAIEmbedResponse
	var lastErr error

	for attempt := 0; attempt <= openAIMaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("openai embed: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)

		httpResp, err := o.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
			continue
		}

		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("openai embed: read response: %w", err)
			continue
		}

		if httpResp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("openai embed: rate limited (429)")
			continue
		}
		if httpResp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("openai embed: API error %d: %s", httpResp.StatusCode, string(respBody))
			// Don't retry non-retryable errors
			if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
				return nil, lastErr
			}
			continue
		}

		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("openai embed: unmarshal response: %w", err)
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
