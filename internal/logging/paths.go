package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.alicerag/logs, or a temp fallback when
// the home directory is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".alicerag", "logs")
	}
	return filepath.Join(home, ".alicerag", "logs")
}

// DefaultLogPath is the engine log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "engine.log")
}

// EmbedderLogPath is the embedding sidecar's log file.
func EmbedderLogPath() string {
	return filepath.Join(DefaultLogDir(), "embedder.log")
}

// LogSource selects which logs to view.
type LogSource string

const (
	// LogSourceEngine is the Go engine's own log.
	LogSourceEngine LogSource = "engine"
	// LogSourceEmbedder is the embedding sidecar's log.
	LogSourceEmbedder LogSource = "embedder"
	// LogSourceAll merges both.
	LogSourceAll LogSource = "all"
)

// ParseLogSource maps a flag value to a LogSource. Unknown values
// mean the engine log.
func ParseLogSource(s string) LogSource {
	switch s {
	case "embedder":
		return LogSourceEmbedder
	case "all":
		return LogSourceAll
	default:
		return LogSourceEngine
	}
}

// FindLogFiles resolves the files to view. An explicit path wins;
// otherwise the source decides, and only files that exist come back.
func FindLogFiles(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	var candidates []string
	switch source {
	case LogSourceEngine:
		candidates = []string{DefaultLogPath()}
	case LogSourceEmbedder:
		candidates = []string{EmbedderLogPath()}
	case LogSourceAll:
		candidates = []string{DefaultLogPath(), EmbedderLogPath()}
	default:
		return nil, fmt.Errorf("unknown log source %q (use: engine, embedder, all)", source)
	}

	var paths []string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			paths = append(paths, c)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source %q under %s\n%s",
			source, DefaultLogDir(), logHint(source))
	}
	return paths, nil
}

func logHint(source LogSource) string {
	switch source {
	case LogSourceEmbedder:
		return "the sidecar writes its log once it has been started"
	default:
		return "run 'alicerag --debug serve' to generate engine logs"
	}
}

// EnsureLogDir creates the log directory.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
