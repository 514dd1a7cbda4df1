package embed

import (
	"context"
	"os"
	"strings"
	"time"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
)

// Provider identifies an embedding provider.
type Provider string

const (
	// ProviderService uses the local embedding sidecar over HTTP.
	ProviderService Provider = "service"

	// ProviderStatic uses hash-based embeddings, fully offline.
	ProviderStatic Provider = "static"
)

// Options configures embedder construction.
type Options struct {
	// Provider selects the embedding provider. Empty means service.
	Provider Provider

	// Endpoint is the sidecar base URL (service provider only).
	Endpoint string

	// Model is the expected model name.
	Model string

	// Dimensions overrides the embedding dimension (static provider).
	Dimensions int

	// RequestTimeout bounds one embedding request.
	RequestTimeout time.Duration

	// CacheSize is the query embedding LRU size; zero uses the
	// default.
	CacheSize int

	// SkipReadinessCheck skips the startup probe (for testing).
	SkipReadinessCheck bool
}

// NewEmbedder creates an embedder for the given options. There is no
// silent fallback between providers: a configured service that is not
// running fails with a clear error instead of quietly degrading to
// hash embeddings and a differently-shaped index.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var embedder Embedder

	switch opts.Provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(opts.Dimensions)
	case ProviderService, "":
		svc, err := NewServiceEmbedder(ctx, ServiceConfig{
			Endpoint:           opts.Endpoint,
			Model:              opts.Model,
			RequestTimeout:     opts.RequestTimeout,
			SkipReadinessCheck: opts.SkipReadinessCheck,
		})
		if err != nil {
			return nil, err
		}
		embedder = svc
	default:
		return nil, alerrors.New(alerrors.ErrCodeConfigInvalid,
			"unknown embeddings provider: "+string(opts.Provider), nil).
			WithSuggestion("valid providers: service, static")
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}

// isCacheDisabled checks if the embedding cache is disabled via
// environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("ALICERAG_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// ParseProvider converts a string to a Provider. Unknown values fall
// back to the service provider.
func ParseProvider(s string) Provider {
	switch strings.ToLower(s) {
	case "static":
		return ProviderStatic
	case "service", "http", "":
		return ProviderService
	default:
		return ProviderService
	}
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderService), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo describes an embedder for status output.
type EmbedderInfo struct {
	Provider   Provider
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects an embedder, unwrapping the cache layer.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}
	switch inner.(type) {
	case *ServiceEmbedder:
		info.Provider = ProviderService
	default:
		info.Provider = ProviderStatic
	}
	return info
}
