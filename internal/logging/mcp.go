package logging

import (
	"log/slog"
)

// SetupMCPMode installs file-only logging for the MCP server. The
// protocol runs over stdio, so stdout and stderr must stay silent;
// everything goes to the log file at the given level ("" means
// debug).
func SetupMCPMode(level string) (func(), error) {
	if level == "" {
		level = "debug"
	}
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	slog.Info("mcp_logging_ready",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}
