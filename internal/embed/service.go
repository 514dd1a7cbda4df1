package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
)

// Service endpoints. The sidecar keeps the model resident so requests
// after the first are fast.
const (
	DefaultServiceEndpoint = "http://localhost:8765"
	DefaultServiceModel    = "all-MiniLM-L6-v2"

	embedBatchPath  = "/api/embeddings/batch"
	serviceInfoPath = "/api/embeddings/info"
)

// ServiceConfig holds configuration for the embedding sidecar client.
type ServiceConfig struct {
	// Endpoint is the sidecar base URL (default http://localhost:8765).
	Endpoint string

	// Model is the expected model name; the server's reported name
	// wins when the readiness check runs.
	Model string

	// RequestTimeout bounds a single embedding request.
	RequestTimeout time.Duration

	// MaxRetries is the retry count for transient failures.
	MaxRetries int

	// SkipReadinessCheck skips the startup probe (for testing).
	SkipReadinessCheck bool
}

// DefaultServiceConfig returns the default sidecar configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Endpoint:       DefaultServiceEndpoint,
		Model:          DefaultServiceModel,
		RequestTimeout: DefaultRequestTimeout,
		MaxRetries:     DefaultMaxRetries,
	}
}

// ServiceInfo is the sidecar's readiness report.
type ServiceInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"`
}

// ServiceEmbedder talks to the local embedding sidecar over HTTP.
// Transient failures are retried with backoff; a run of failures
// opens a circuit breaker so indexing fails fast instead of waiting
// out the timeout on every batch.
type ServiceEmbedder struct {
	client  *http.Client
	cfg     ServiceConfig
	breaker *alerrors.CircuitBreaker
	dims    int
	model   string
	mu      sync.RWMutex
	closed  bool
}

var _ Embedder = (*ServiceEmbedder)(nil)

// NewServiceEmbedder creates a sidecar client and probes readiness.
func NewServiceEmbedder(ctx context.Context, cfg ServiceConfig) (*ServiceEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultServiceEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultServiceModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	// Zero means default; use a negative value to disable retries.
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	// No http.Client.Timeout: each request carries its own context
	// deadline so the configured timeout actually applies.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	e := &ServiceEmbedder{
		client:  client,
		cfg:     cfg,
		breaker: alerrors.NewCircuitBreaker("embedding-service"),
		dims:    DefaultDimensions,
		model:   cfg.Model,
	}

	if !cfg.SkipReadinessCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		info, err := e.Info(checkCtx)
		if err != nil {
			return nil, alerrors.New(alerrors.ErrCodeServiceUnavailable,
				"embedding service is not reachable", err).
				WithDetail("endpoint", cfg.Endpoint).
				WithSuggestion("start the embedding service, or set embeddings.provider: static for keyword-quality offline mode")
		}
		if info.Model != "" {
			e.model = info.Model
		}
		if info.Dimensions > 0 {
			e.dims = info.Dimensions
		}
	}

	slog.Debug("service_embedder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", e.model),
		slog.Int("dimensions", e.dims))

	return e, nil
}

// Info fetches the sidecar's readiness report.
func (e *ServiceEmbedder) Info(ctx context.Context) (*ServiceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Endpoint+serviceInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create info request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var info ServiceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode info response: %w", err)
	}
	if info.Status != "" && info.Status != "ready" {
		return nil, fmt.Errorf("embedding service status: %s", info.Status)
	}
	return &info, nil
}

// Embed generates the embedding for a single text.
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, retrying
// transient failures. Returns exactly one vector per input text or
// an error.
func (e *ServiceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, alerrors.New(alerrors.ErrCodeInvalidInput,
			fmt.Sprintf("batch of %d exceeds maximum %d", len(texts), MaxBatchSize), nil)
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if !e.breaker.Allow() {
		return nil, alerrors.New(alerrors.ErrCodeServiceUnavailable,
			"embedding service circuit is open after repeated failures", alerrors.ErrCircuitOpen).
			WithDetail("endpoint", e.cfg.Endpoint).
			WithSuggestion("check that the embedding service is running, then retry")
	}

	retryCfg := alerrors.RetryConfig{
		MaxRetries:   e.cfg.MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}
	embeddings, err := alerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		return e.doEmbedBatch(ctx, texts)
	})
	if err != nil {
		e.breaker.RecordFailure()
		return nil, e.wrapServiceError(err)
	}
	e.breaker.RecordSuccess()
	return embeddings, nil
}

type embedBatchRequest struct {
	Texts []string `json:"texts"`
}

type embedBatchResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (e *ServiceEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	jsonData, err := json.Marshal(embedBatchRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Endpoint+embedBatchPath, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result embedBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// A miscounted response would silently shift every following
	// chunk onto the wrong vector, so it is rejected outright and
	// not retried.
	if len(result.Embeddings) != len(texts) {
		return nil, alerrors.New(alerrors.ErrCodeEmbedCountMismatch,
			fmt.Sprintf("service returned %d embeddings for %d texts", len(result.Embeddings), len(texts)), nil)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = make([]float32, len(emb))
		for j, v := range emb {
			embeddings[i][j] = float32(v)
		}
	}
	return embeddings, nil
}

// wrapServiceError maps transport failures onto coded errors so
// callers can distinguish a down service from a slow one.
func (e *ServiceEmbedder) wrapServiceError(err error) error {
	var ragErr *alerrors.RagError
	if errors.As(err, &ragErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return alerrors.New(alerrors.ErrCodeServiceTimeout,
			"embedding request timed out", err).
			WithDetail("endpoint", e.cfg.Endpoint).
			WithDetail("timeout", e.cfg.RequestTimeout.String())
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return alerrors.New(alerrors.ErrCodeServiceUnavailable,
		"embedding service request failed", err).
		WithDetail("endpoint", e.cfg.Endpoint).
		WithSuggestion("check that the embedding service is running")
}

// Dimensions returns the embedding dimension.
func (e *ServiceEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier reported by the service.
func (e *ServiceEmbedder) ModelName() string {
	return e.model
}

// Available probes the sidecar's readiness endpoint.
func (e *ServiceEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := e.Info(checkCtx)
	return err == nil
}

// Close releases idle connections.
func (e *ServiceEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if transport, ok := e.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
