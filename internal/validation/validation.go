// Package validation is the retrieval quality harness: tiered golden
// queries run against a real index through the engine, with expected
// documents checked by path. Queries are data-driven, loaded from
// testdata/queries.yaml, so retrieval targets can change without
// touching Go code.
//
// Tier 1 queries use vocabulary present in the target documents and
// should pass on keyword ranking alone. Tier 2 queries paraphrase, so
// they lean on the embedding side. Negative queries only have to
// complete without an error.
package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/embed"
	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/search"
	"github.com/pmbstyle/alicerag/internal/store"
)

// defaultTopK is how many results each golden query retrieves.
const defaultTopK = 10

// QuerySpec defines one golden query with its expected documents.
type QuerySpec struct {
	ID       string   `yaml:"id"`       // e.g. "T1-Q3"
	Name     string   `yaml:"name"`     // short label, used in subtest names
	Query    string   `yaml:"query"`    // the search text
	Expected []string `yaml:"expected"` // path fragments that should appear in results
	Notes    string   `yaml:"notes"`    // optional explanation for maintainers
	Tier     int      `yaml:"-"`        // set from the section; 0 means negative
}

// QueryConfig holds every golden query loaded from YAML.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

var (
	queriesOnce sync.Once
	queriesData *QueryConfig
	queriesErr  error
)

// LoadQueries reads testdata/queries.yaml next to this source file.
// The result is cached after the first load.
func LoadQueries() (*QueryConfig, error) {
	queriesOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			queriesErr = fmt.Errorf("failed to resolve source file path")
			return
		}

		path := filepath.Join(filepath.Dir(filename), "testdata", "queries.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			queriesErr = fmt.Errorf("read queries file %s: %w", path, err)
			return
		}

		var cfg QueryConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			queriesErr = fmt.Errorf("parse queries YAML: %w", err)
			return
		}

		for i := range cfg.Tier1 {
			cfg.Tier1[i].Tier = 1
		}
		for i := range cfg.Tier2 {
			cfg.Tier2[i].Tier = 2
		}
		for i := range cfg.Negative {
			cfg.Negative[i].Tier = 0
		}

		queriesData = &cfg
	})

	return queriesData, queriesErr
}

// ResetQueries clears the cached queries (for testing).
func ResetQueries() {
	queriesOnce = sync.Once{}
	queriesData = nil
	queriesErr = nil
}

// Tier1Queries returns the lexical golden queries. Nil when the YAML
// cannot be loaded; the suite then reports 0/0.
func Tier1Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier1
}

// Tier2Queries returns the paraphrase golden queries.
func Tier2Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier2
}

// NegativeQueries returns the queries that only have to complete
// without an error.
func NegativeQueries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Negative
}

// TestResult captures the outcome of a single golden query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ms"`
	TopResults []string      `json:"top_results"` // document paths, one per result chunk
	MatchedAt  int           `json:"matched_at"`  // position of the first expected hit, -1 if none
	Error      string        `json:"error,omitempty"`
}

// ValidationResult captures a full run across all tiers.
type ValidationResult struct {
	Timestamp   time.Time    `json:"timestamp"`
	Tier1       []TestResult `json:"tier1"`
	Tier2       []TestResult `json:"tier2"`
	Negative    []TestResult `json:"negative"`
	Tier1Pass   int          `json:"tier1_pass"`
	Tier1Total  int          `json:"tier1_total"`
	Tier2Pass   int          `json:"tier2_pass"`
	Tier2Total  int          `json:"tier2_total"`
	NegPass     int          `json:"negative_pass"`
	NegTotal    int          `json:"negative_total"`
	Embedder    string       `json:"embedder"`
	IndexChunks int          `json:"index_chunks"`
}

// ErrIndexLocked indicates another process holds the data directory.
var ErrIndexLocked = errors.New("index is locked by another process (stop 'alicerag serve' or watch mode first)")

// Validator runs golden queries against an existing index through a
// read-mostly engine instance.
type Validator struct {
	engine   *rag.Engine
	embedder embed.Embedder
	topK     int
}

// NewValidator opens the index at dataDir. An empty dataDir uses the
// configured data directory, so ALICERAG_DATA_DIR works the same way
// it does for the CLI.
//
// The embedder readiness probe is skipped: with the sidecar down,
// searches degrade to keyword-only instead of aborting the run, which
// still exercises the Tier 1 queries.
func NewValidator(ctx context.Context, dataDir string) (*Validator, error) {
	cfg, err := config.Load(".")
	if err != nil {
		cfg = config.NewConfig()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	metadataPath := filepath.Join(cfg.DataDir, store.MetadataFile)
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s - run 'alicerag index' first", cfg.DataDir)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:           embed.ParseProvider(cfg.Embeddings.Provider),
		Endpoint:           cfg.Embeddings.Endpoint,
		Model:              cfg.Embeddings.Model,
		Dimensions:         cfg.Embeddings.Dimensions,
		RequestTimeout:     config.DurationOr(cfg.Embeddings.RequestTimeout, 0),
		CacheSize:          cfg.Embeddings.CacheSize,
		SkipReadinessCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	engine, err := rag.New(cfg, embedder)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	if err := engine.InitializeStore(ctx); err != nil {
		_ = embedder.Close()
		if alerrors.GetCode(err) == alerrors.ErrCodeStoreLocked {
			return nil, ErrIndexLocked
		}
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Validator{
		engine:   engine,
		embedder: embedder,
		topK:     defaultTopK,
	}, nil
}

// Close releases the engine handles and the embedder.
func (v *Validator) Close() error {
	var errs []error
	if v.engine != nil {
		errs = append(errs, v.engine.Close())
	}
	if v.embedder != nil {
		errs = append(errs, v.embedder.Close())
	}
	return errors.Join(errs...)
}

// RunQuery executes a single golden query and scores the result.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{
		Spec:      spec,
		MatchedAt: -1,
	}

	results, err := v.engine.Search(ctx, search.Request{
		Text: spec.Query,
		TopK: v.topK,
	})
	result.Duration = time.Since(start)

	if err != nil {
		// Negative queries are allowed to error; they only must not
		// take the engine down.
		if spec.Tier == 0 {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	result.TopResults = resultPaths(results)

	if len(spec.Expected) == 0 {
		result.Passed = true
	} else {
		result.Passed, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	}

	return result
}

// RunAll executes every golden query and aggregates per-tier counts.
func (v *Validator) RunAll(ctx context.Context) *ValidationResult {
	result := &ValidationResult{
		Timestamp: time.Now(),
		Embedder:  v.embedder.ModelName(),
	}

	if info, err := v.engine.Stats(ctx); err == nil {
		result.IndexChunks = info.Chunks
	}

	for _, spec := range Tier1Queries() {
		tr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, tr)
		result.Tier1Total++
		if tr.Passed {
			result.Tier1Pass++
		}
	}

	for _, spec := range Tier2Queries() {
		tr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, tr)
		result.Tier2Total++
		if tr.Passed {
			result.Tier2Pass++
		}
	}

	for _, spec := range NegativeQueries() {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		result.NegTotal++
		if tr.Passed {
			result.NegPass++
		}
	}

	return result
}

// resultPaths collects the document path of each result chunk, in
// rank order. A document that matched with several chunks appears
// once per chunk.
func resultPaths(results []*search.Result) []string {
	paths := make([]string, 0, len(results))
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	return paths
}

// checkExpected reports whether any expected path fragment appears in
// the ranked results, and at which position.
func checkExpected(results []string, expected []string) (bool, int) {
	for i, path := range results {
		for _, exp := range expected {
			if strings.HasPrefix(path, exp) || strings.Contains(path, exp) {
				return true, i
			}
		}
	}
	return false, -1
}
