package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete AliceRAG configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkingConfig configures how documents are split into chunks.
type ChunkingConfig struct {
	// MaxTokens is the target chunk size in whitespace tokens.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// OverlapTokens is the minimum token overlap carried between
	// consecutive chunks of the same document.
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`

	// PageOverlapChars is how many trailing characters of a page are
	// prefixed onto the next page for paginated formats, so sentences
	// split across page boundaries stay findable.
	PageOverlapChars int `yaml:"page_overlap_chars" json:"page_overlap_chars"`
}

// SearchConfig configures hybrid retrieval.
// Tunables are configurable via:
//  1. User config (~/.config/alicerag/config.yaml) - personal defaults
//  2. Local config (.alicerag.yaml) - per-directory tuning
//  3. Env vars (ALICERAG_TOP_K, ALICERAG_RRF_CONSTANT) - highest priority
type SearchConfig struct {
	// TopK is the default number of results returned per query.
	TopK int `yaml:"top_k" json:"top_k"`

	// RRFConstant is the reciprocal rank fusion smoothing parameter (k).
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	// Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// KeywordBackend selects the keyword index backend.
	// Options: "sqlite" (default, FTS5 with concurrent access) or "bleve".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`

	// ExtraStopwords extends the built-in English stopword list used
	// when extracting keyword query terms.
	ExtraStopwords []string `yaml:"extra_stopwords" json:"extra_stopwords"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "service" (local embedding sidecar),
	// "static" (deterministic hash vectors, degraded quality), or empty
	// for auto-detection (service if reachable, otherwise fail).
	Provider string `yaml:"provider" json:"provider"`

	// Endpoint is the embedding service base URL.
	// Empty uses the default http://localhost:8765.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// RequestTimeout bounds a single embedding batch request (e.g. "30s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	// CacheSize is the number of embeddings kept in the in-memory LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SyncConfig configures document discovery and indexing.
type SyncConfig struct {
	// MaxFileSizeMB is the per-file size ceiling. Larger files are skipped.
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`

	// Extensions lists the file extensions considered indexable.
	Extensions []string `yaml:"extensions" json:"extensions"`

	// ParseTimeout bounds extraction of a single document (e.g. "120s").
	// A parser that hangs on a malformed file is abandoned, the file is
	// skipped, and the sync continues.
	ParseTimeout string `yaml:"parse_timeout" json:"parse_timeout"`
}

// WatchConfig configures filesystem watch mode.
type WatchConfig struct {
	// Debounce is how long to wait after the last filesystem event
	// before triggering a re-sync (e.g. "500ms").
	Debounce string `yaml:"debounce" json:"debounce"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/~$*", // Office lock files
}

// defaultExtensions are the formats the parser registry handles.
var defaultExtensions = []string{
	".txt", ".md", ".markdown", ".pdf", ".docx", ".html", ".htm",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Chunking: ChunkingConfig{
			MaxTokens:        512,
			OverlapTokens:    64,
			PageOverlapChars: 200,
		},
		Search: SearchConfig{
			TopK: 5,
			// RRF constant k=60 is industry standard (Azure AI Search, OpenSearch)
			RRFConstant:    60,
			KeywordBackend: "sqlite",
			ExtraStopwords: nil,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "", // Empty triggers auto-detection: service -> error with hint
			Endpoint:       "", // Empty uses default http://localhost:8765
			Model:          "all-MiniLM-L6-v2",
			Dimensions:     384,
			BatchSize:      32,
			RequestTimeout: "30s",
			CacheSize:      1000,
		},
		Sync: SyncConfig{
			MaxFileSizeMB: 32,
			Extensions:    defaultExtensions,
			ParseTimeout:  "120s",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// DefaultDataDir returns the default data directory (~/.alicerag).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to temp directory
		return filepath.Join(os.TempDir(), ".alicerag")
	}
	return filepath.Join(home, ".alicerag")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/alicerag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/alicerag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "alicerag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "alicerag", "config.yaml")
	}
	return filepath.Join(home, ".config", "alicerag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/alicerag/config.yaml)
//  3. Local config (.alicerag.yaml in dir)
//  4. Environment variables (ALICERAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load local config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .alicerag.yaml or .alicerag.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".alicerag.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".alicerag.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Paths
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Chunking
	if other.Chunking.MaxTokens != 0 {
		c.Chunking.MaxTokens = other.Chunking.MaxTokens
	}
	if other.Chunking.OverlapTokens != 0 {
		c.Chunking.OverlapTokens = other.Chunking.OverlapTokens
	}
	if other.Chunking.PageOverlapChars != 0 {
		c.Chunking.PageOverlapChars = other.Chunking.PageOverlapChars
	}

	// Search
	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.KeywordBackend != "" {
		c.Search.KeywordBackend = other.Search.KeywordBackend
	}
	if len(other.Search.ExtraStopwords) > 0 {
		c.Search.ExtraStopwords = append(c.Search.ExtraStopwords, other.Search.ExtraStopwords...)
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.RequestTimeout != "" {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Sync
	if other.Sync.MaxFileSizeMB != 0 {
		c.Sync.MaxFileSizeMB = other.Sync.MaxFileSizeMB
	}
	if len(other.Sync.Extensions) > 0 {
		c.Sync.Extensions = other.Sync.Extensions
	}
	if other.Sync.ParseTimeout != "" {
		c.Sync.ParseTimeout = other.Sync.ParseTimeout
	}

	// Watch
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies ALICERAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ALICERAG_DATA_DIR"); v != "" {
		c.DataDir = v
	}

	if v := os.Getenv("ALICERAG_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.TopK = k
		}
	}
	if v := os.Getenv("ALICERAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("ALICERAG_KEYWORD_BACKEND"); v != "" {
		c.Search.KeywordBackend = v
	}

	if v := os.Getenv("ALICERAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// ALICERAG_EMBEDDER is an alias for ALICERAG_EMBEDDINGS_PROVIDER
	if v := os.Getenv("ALICERAG_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("ALICERAG_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("ALICERAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}

	if v := os.Getenv("ALICERAG_WATCH_DEBOUNCE"); v != "" {
		c.Watch.Debounce = v
	}

	if v := os.Getenv("ALICERAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("ALICERAG_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	// Chunking
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapTokens < 0 {
		return fmt.Errorf("chunking.overlap_tokens must be non-negative, got %d", c.Chunking.OverlapTokens)
	}
	if c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.overlap_tokens (%d) must be smaller than chunking.max_tokens (%d)",
			c.Chunking.OverlapTokens, c.Chunking.MaxTokens)
	}
	if c.Chunking.PageOverlapChars < 0 {
		return fmt.Errorf("chunking.page_overlap_chars must be non-negative, got %d", c.Chunking.PageOverlapChars)
	}

	// Search
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	validBackends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Search.KeywordBackend)] {
		return fmt.Errorf("search.keyword_backend must be 'sqlite' or 'bleve', got %s", c.Search.KeywordBackend)
	}

	// Embeddings (empty string allowed for auto-detection)
	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"service": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'service', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if err := validateDuration("embeddings.request_timeout", c.Embeddings.RequestTimeout); err != nil {
		return err
	}

	// Sync
	if c.Sync.MaxFileSizeMB <= 0 {
		return fmt.Errorf("sync.max_file_size_mb must be positive, got %d", c.Sync.MaxFileSizeMB)
	}
	for _, ext := range c.Sync.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("sync.extensions entries must start with '.', got %q", ext)
		}
	}
	if err := validateDuration("sync.parse_timeout", c.Sync.ParseTimeout); err != nil {
		return err
	}

	// Watch
	if err := validateDuration("watch.debounce", c.Watch.Debounce); err != nil {
		return err
	}

	// Server
	if strings.ToLower(c.Server.Transport) != "stdio" {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// validateDuration checks that a duration string parses when non-empty.
func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s must be a duration like '30s', got %q", field, value)
	}
	return nil
}

// DurationOr parses a duration string, falling back to def when the
// string is empty or invalid. Config durations are validated at load
// time, so the fallback mostly covers zero-value configs in tests.
func DurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// MaxFileSizeBytes returns the sync file size ceiling in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Sync.MaxFileSizeMB) * 1024 * 1024
}

// ExtensionSet returns the indexable extensions as a lowercase set.
func (c *Config) ExtensionSet() map[string]bool {
	set := make(map[string]bool, len(c.Sync.Extensions))
	for _, ext := range c.Sync.Extensions {
		set[strings.ToLower(ext)] = true
	}
	return set
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// FindConfigRoot finds the directory holding a .alicerag.yaml/.yml by
// walking up from startDir. Returns startDir when no config is found,
// so commands run from subdirectories of an indexed tree pick up the
// tree's local config.
func FindConfigRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if fileExists(filepath.Join(currentDir, ".alicerag.yaml")) ||
			fileExists(filepath.Join(currentDir, ".alicerag.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverDocumentDirs discovers common documentation directories under dir.
// Used by `alicerag init` to suggest default include paths.
func DiscoverDocumentDirs(dir string) []string {
	commonDirs := []string{"docs", "doc", "documents", "notes", "wiki"}
	commonFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string

	for _, d := range commonDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	for _, f := range commonFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break // Only add one README
		}
	}

	return found
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
// Used after upgrades so configs written by older releases pick up fields
// introduced since.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
		added = append(added, "data_dir")
	}

	if c.Chunking.PageOverlapChars == 0 {
		c.Chunking.PageOverlapChars = defaults.Chunking.PageOverlapChars
		added = append(added, "chunking.page_overlap_chars")
	}

	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = defaults.Search.RRFConstant
		added = append(added, "search.rrf_constant")
	}

	if c.Embeddings.CacheSize == 0 {
		c.Embeddings.CacheSize = defaults.Embeddings.CacheSize
		added = append(added, "embeddings.cache_size")
	}

	if c.Sync.ParseTimeout == "" {
		c.Sync.ParseTimeout = defaults.Sync.ParseTimeout
		added = append(added, "sync.parse_timeout")
	}

	return added
}
