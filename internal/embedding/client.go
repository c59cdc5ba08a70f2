// Package embedding implements the synchronous and batch embedding
// provider facade described by §4.5, generalized from the teacher's HTTP
// client setup (connection pooling, timeouts, retry-with-classification)
// applied to its single external collaborator, and from the encode/decode
// and batch-submission idioms used by the pack's pgvector-backed RAG
// store for embedding-shaped payloads.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docserver-mcp/docserver/internal/metrics"
	"github.com/docserver-mcp/docserver/internal/retry"
)

// MaxInputChars is the safe truncation boundary applied before issuing a
// single embed call, per §8's boundary behavior.
const MaxInputChars = 30000

// Config controls provider connectivity.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client calls an OpenAI-compatible embeddings/batches HTTP API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// New builds an embedding client with a connection-pooled transport
// matching the teacher's ClientFactory tuning, a dual RPM/TPM rate
// limiter, and a circuit breaker per §4.5's defaults.
func New(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport, Timeout: 120 * time.Second},
		limiter: NewRateLimiter(DefaultRPM, DefaultTPM),
		breaker: NewCircuitBreaker(DefaultFailureThreshold, DefaultCooldown),
	}
}

// EmbedResponse is the single-vector embed result.
type EmbedResponse struct {
	Embedding []float32
}

// Embed calls the provider for a single text, throttled by the rate
// limiter and protected by the circuit breaker and retry executor (§4.5).
func (c *Client) Embed(ctx context.Context, text string) (*EmbedResponse, error) {
	text = truncate(text, MaxInputChars)
	estimatedTokens := estimateTokens(text)

	if !c.breaker.Allow() {
		metrics.EmbeddingRequestsTotal.WithLabelValues("embed", "circuit-open").Inc()
		return nil, fmt.Errorf("embedding circuit breaker is open")
	}

	if err := c.limiter.Wait(ctx, estimatedTokens); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	var result *EmbedResponse
	cfg := retry.DefaultEmbeddingConfig(ClassifyHTTPError)
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		resp, err := c.doEmbed(ctx, text)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})

	if err != nil {
		c.breaker.RecordFailure()
		metrics.EmbeddingRequestsTotal.WithLabelValues("embed", "failure").Inc()
		return nil, err
	}
	c.breaker.RecordSuccess()
	metrics.EmbeddingRequestsTotal.WithLabelValues("embed", "success").Inc()
	return result, nil
}

func (c *Client) doEmbed(ctx context.Context, text string) (*EmbedResponse, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing embed response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embed response contained no data")
	}

	return &EmbedResponse{Embedding: parsed.Data[0].Embedding}, nil
}

// UploadBatchFile submits a JSONL batch file to the provider and returns
// its file id (§4.5).
func (c *Client) UploadBatchFile(ctx context.Context, jsonlContent []byte, filename string) (string, error) {
	var fileID string
	cfg := retry.DefaultEmbeddingConfig(ClassifyHTTPError)
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		id, err := c.doUploadBatchFile(ctx, jsonlContent, filename)
		if err != nil {
			return err
		}
		fileID = id
		return nil
	})
	metricOutcome(err, "upload_batch_file")
	return fileID, err
}

func (c *Client) doUploadBatchFile(ctx context.Context, content []byte, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/files", bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/jsonl")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Filename", filename)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing upload response: %w", err)
	}
	return parsed.ID, nil
}

// CreateBatch creates a batch job against an uploaded input file and
// returns its provider batch id.
func (c *Client) CreateBatch(ctx context.Context, inputFileID string) (string, error) {
	var batchID string
	cfg := retry.DefaultEmbeddingConfig(ClassifyHTTPError)
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		id, err := c.doCreateBatch(ctx, inputFileID)
		if err != nil {
			return err
		}
		batchID = id
		return nil
	})
	metricOutcome(err, "create_batch")
	return batchID, err
}

func (c *Client) doCreateBatch(ctx context.Context, inputFileID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]any{
		"input_file_id":     inputFileID,
		"endpoint":          "/v1/embeddings",
		"completion_window": "24h",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/batches", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building create-batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create-batch request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing create-batch response: %w", err)
	}
	return parsed.ID, nil
}

// ProviderBatchStatus is the provider-reported lifecycle state of a batch.
type ProviderBatchStatus struct {
	ID               string
	Status           string
	OutputFileID     string
	ErrorFileID      string
	RequestCounts    struct{ Total, Completed, Failed int }
}

// GetBatch retrieves the current provider-side status of a batch.
func (c *Client) GetBatch(ctx context.Context, id string) (*ProviderBatchStatus, error) {
	var status *ProviderBatchStatus
	cfg := retry.DefaultEmbeddingConfig(ClassifyHTTPError)
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		s, err := c.doGetBatch(ctx, id)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	metricOutcome(err, "get_batch")
	return status, err
}

func (c *Client) doGetBatch(ctx context.Context, id string) (*ProviderBatchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/batches/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("building get-batch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get-batch request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		OutputFileID string `json:"output_file_id"`
		ErrorFileID  string `json:"error_file_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing get-batch response: %w", err)
	}
	return &ProviderBatchStatus{ID: parsed.ID, Status: parsed.Status, OutputFileID: parsed.OutputFileID, ErrorFileID: parsed.ErrorFileID}, nil
}

// DownloadBatchResults retrieves the raw JSONL results file content for a
// completed batch.
func (c *Client) DownloadBatchResults(ctx context.Context, fileID string) ([]byte, error) {
	var content []byte
	cfg := retry.DefaultEmbeddingConfig(ClassifyHTTPError)
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		b, err := c.doDownloadBatchResults(ctx, fileID)
		if err != nil {
			return err
		}
		content = b
		return nil
	})
	metricOutcome(err, "download_batch_results")
	return content, err
}

func (c *Client) doDownloadBatchResults(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading download response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// CancelBatch requests cancellation of an in-flight batch.
func (c *Client) CancelBatch(ctx context.Context, id string) error {
	cfg := retry.DefaultEmbeddingConfig(ClassifyHTTPError)
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/batches/"+id+"/cancel", nil)
		if err != nil {
			return fmt.Errorf("building cancel request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("cancel request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
		}
		return nil
	})
	metricOutcome(err, "cancel_batch")
	return err
}

func metricOutcome(err error, operation string) {
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(operation, "failure").Inc()
		return
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(operation, "success").Inc()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// estimateTokens is a coarse ~4-chars-per-token heuristic used only to
// size the TPM rate-limit bucket draw; the provider's own accounting is
// authoritative for billing.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}

// HTTPStatusError wraps a non-200 provider response so classifiers can
// branch on the status code without string matching.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("embedding provider returned %d: %s", e.Status, strings.TrimSpace(e.Body))
}
