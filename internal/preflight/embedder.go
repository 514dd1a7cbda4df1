package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/pmbstyle/alicerag/internal/embed"
)

// CheckEmbedderService probes the embedding sidecar. Not required:
// search degrades to keyword-only when the sidecar is down, so an
// unreachable service is a warning.
func (c *Checker) CheckEmbedderService(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedding_service",
		Required: false,
	}

	if c.embedProvider == "static" {
		result.Status = StatusPass
		result.Message = "static provider configured, no service needed"
		return result
	}

	cfg := embed.DefaultServiceConfig()
	if c.embedEndpoint != "" {
		cfg.Endpoint = c.embedEndpoint
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	embedder, err := embed.NewServiceEmbedder(probeCtx, cfg)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "embedding service not reachable (semantic search disabled until it starts)"
		result.Details = fmt.Sprintf("endpoint: %s", cfg.Endpoint)
		return result
	}
	defer func() { _ = embedder.Close() }()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready (%d dimensions)", embedder.ModelName(), embedder.Dimensions())
	result.Details = fmt.Sprintf("endpoint: %s", cfg.Endpoint)
	return result
}
