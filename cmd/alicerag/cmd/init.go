package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/configs"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/output"
	"github.com/pmbstyle/alicerag/pkg/version"
)

// MCPServerConfig is one server entry in .mcp.json.
type MCPServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPConfig is the root .mcp.json structure.
type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

func newInitCmd() *cobra.Command {
	var (
		global     bool
		force      bool
		offline    bool
		configOnly bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize alicerag for a document tree",
		Long: `Initialize alicerag in the current directory.

This command:
1. Configures MCP client integration (via 'claude mcp add' or .mcp.json)
2. Generates a .alicerag.yaml configuration with the document
   directories it finds here
3. Indexes the configured paths (unless --config-only)

After running, restart the MCP client to activate the server.`,
		Example: `  # Initialize in the current directory
  alicerag init

  # Register the MCP server globally (available everywhere)
  alicerag init --global

  # Overwrite an existing configuration
  alicerag init --force

  # Configure only, skip indexing
  alicerag init --config-only

  # Keyword-only indexing (no embedding service required)
  alicerag init --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), cmd, global, force, offline, configOnly)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Register the MCP server for all directories (user scope)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use deterministic offline embeddings")
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "Configure only, skip indexing")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, global, force, offline, configOnly bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🚀", "AliceRAG %s - Initializing...", version.Short())
	out.Newline()

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get current directory: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	out.Statusf("📁", "Directory: %s", root)

	mcpConfigPath := filepath.Join(root, ".mcp.json")
	if !force {
		if _, err := os.Stat(mcpConfigPath); err == nil {
			isValid, warnings := validateExistingMCPConfig(mcpConfigPath)
			out.Newline()

			if !isValid && len(warnings) > 0 {
				out.Warning("Existing .mcp.json has configuration issues:")
				for _, w := range warnings {
					out.Statusf("  ⚠️ ", "%s", w)
				}
				out.Newline()
				out.Status("💡", "Use --force to fix these issues")
				return nil
			}

			out.Warning("Already initialized (.mcp.json exists)")
			out.Status("💡", "Use --force to reinitialize")
			return nil
		}
	}

	out.Newline()
	out.Status("⚙️ ", "Configuring MCP integration...")

	mcpConfigured, err := configureMCP(ctx, out, root, global, force)
	if err != nil {
		out.Warningf("MCP configuration failed: %v", err)
		out.Status("💡", "You can manually configure .mcp.json later")
	} else if mcpConfigured {
		if global {
			out.Success("Added MCP server (user scope - all directories)")
		} else {
			out.Success("Added MCP server (directory scope)")
		}
	}

	if err := generateLocalConfig(out, root); err != nil {
		out.Warningf("Could not create .alicerag.yaml: %v", err)
	}

	if configOnly {
		out.Newline()
		out.Status("⏭️ ", "Skipping indexing (--config-only)")
	} else {
		// Re-read the config so the .alicerag.yaml written above takes
		// effect.
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if len(cfg.Paths.Include) == 0 {
			out.Newline()
			out.Status("ℹ️ ", "No document paths configured yet")
			out.Status("💡", "Edit paths.include in .alicerag.yaml, then run 'alicerag index'")
			return finishInit(out, configOnly, mcpConfigured, mcpConfigPath)
		}

		if !offline {
			out.Newline()
			out.Status("🧠", "Checking embedding service...")
			if probeEmbedder(ctx, cfg) != "ready" {
				out.Warningf("Embedding service is not responding at %s", cfg.Embeddings.Endpoint)
				out.Status("💡", "Start it, or re-run with --offline for keyword-only search")
				return fmt.Errorf("embedding service unavailable (use --offline for keyword-only indexing)")
			}
			out.Success("Embedding service ready")
		}

		out.Newline()
		out.Status("📊", "Indexing documents...")
		if err := runIndex(ctx, cmd, indexOptions{Offline: offline, Recursive: true}); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
	}

	return finishInit(out, configOnly, mcpConfigured, mcpConfigPath)
}

// finishInit prints the completion banner and next steps.
func finishInit(out *output.Writer, configOnly, mcpConfigured bool, mcpConfigPath string) error {
	out.Newline()
	if configOnly {
		out.Success("Configuration complete!")
	} else {
		out.Success("Initialization complete!")
	}
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Restart the MCP client to activate the server")
	out.Status("", "  2. Test with: alicerag search \"some topic\"")
	out.Status("", "  3. Run 'alicerag doctor' to verify the setup")

	if !config.UserConfigExists() {
		out.Newline()
		out.Status("💡", "For machine-specific settings (data dir, embedding endpoint):")
		out.Status("", "   Run 'alicerag config init' to create the user config")
	}

	if !mcpConfigured {
		out.Newline()
		out.Warning("MCP not auto-configured - manual setup required")
		out.Statusf("💡", "Add to .mcp.json: %s", mcpConfigPath)
	}

	return nil
}

// generateLocalConfig writes .alicerag.yaml from the embedded template,
// with the template's include block swapped for the document
// directories found here. An existing file is never overwritten.
func generateLocalConfig(out *output.Writer, root string) error {
	yamlPath := filepath.Join(root, ".alicerag.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		out.Status("ℹ️ ", "Existing .alicerag.yaml preserved")
		return nil
	}
	ymlPath := filepath.Join(root, ".alicerag.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		out.Status("ℹ️ ", "Existing .alicerag.yml found, skipping template")
		return nil
	}

	content := configs.LocalConfigTemplate
	stock := "  include:\n    - docs\n    - README.md\n"
	if discovered := config.DiscoverDocumentDirs(root); len(discovered) > 0 {
		var b strings.Builder
		for _, p := range discovered {
			fmt.Fprintf(&b, "    - %s\n", p)
		}
		content = strings.Replace(content, stock, "  include:\n"+b.String(), 1)
		out.Statusf("🔍", "Discovered document paths: %s", strings.Join(discovered, ", "))
	} else {
		// Nothing discovered: leave the entries as commented examples
		// so indexing doesn't chase paths that aren't there.
		content = strings.Replace(content, stock, "  include:\n    #- docs\n    #- README.md\n", 1)
	}

	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write .alicerag.yaml: %w", err)
	}

	out.Statusf("📝", "Created .alicerag.yaml")
	return nil
}

// validateExistingMCPConfig checks that an existing .mcp.json carries
// a usable alicerag entry.
func validateExistingMCPConfig(mcpPath string) (bool, []string) {
	var warnings []string

	data, err := os.ReadFile(mcpPath)
	if err != nil {
		return false, nil
	}

	var cfg MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		warnings = append(warnings, "Invalid JSON in .mcp.json")
		return false, warnings
	}

	entry, exists := cfg.MCPServers["alicerag"]
	if !exists {
		warnings = append(warnings, "alicerag not configured in .mcp.json")
		return false, warnings
	}

	if entry.Cwd == "" {
		warnings = append(warnings, "Missing 'cwd' field - the server may read the wrong .alicerag.yaml")
	}
	if entry.Command == "" {
		warnings = append(warnings, "Missing 'command' field")
	}

	return len(warnings) == 0, warnings
}

// configureMCP registers the server via the claude CLI or falls back
// to writing .mcp.json.
func configureMCP(ctx context.Context, out *output.Writer, root string, global, force bool) (bool, error) {
	if configured, err := configureViaClaude(ctx, out, root, global); err == nil && configured {
		return true, nil
	}
	return configureViaMCPJSON(out, root, force)
}

// configureViaClaude uses 'claude mcp add' for user-scope registration.
// Directory scope needs the cwd field, which only .mcp.json carries.
func configureViaClaude(ctx context.Context, out *output.Writer, root string, global bool) (bool, error) {
	if !global {
		out.Status("ℹ️ ", "Using .mcp.json for directory scope (supports cwd)")
		return false, nil
	}

	claudePath, err := exec.LookPath("claude")
	if err != nil {
		out.Status("ℹ️ ", "Claude CLI not found, using .mcp.json fallback")
		return false, nil
	}

	out.Statusf("🔍", "Found Claude CLI: %s", claudePath)

	binPath, err := findOwnBinary()
	if err != nil {
		return false, fmt.Errorf("find alicerag binary: %w", err)
	}

	args := []string{"mcp", "add", "--transport", "stdio", "--scope", "user", "alicerag", "--", binPath, "serve"}
	addCmd := exec.CommandContext(ctx, claudePath, args...)
	addCmd.Dir = root
	addCmd.Stdout = os.Stdout
	addCmd.Stderr = os.Stderr

	if err := addCmd.Run(); err != nil {
		return false, fmt.Errorf("claude mcp add failed: %w", err)
	}
	return true, nil
}

// configureViaMCPJSON creates or updates .mcp.json in the root.
func configureViaMCPJSON(out *output.Writer, root string, force bool) (bool, error) {
	mcpPath := filepath.Join(root, ".mcp.json")

	var existing MCPConfig
	if data, err := os.ReadFile(mcpPath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return false, fmt.Errorf("parse existing .mcp.json: %w", err)
		}
		if _, exists := existing.MCPServers["alicerag"]; exists && !force {
			out.Status("ℹ️ ", "alicerag already configured in .mcp.json")
			return true, nil
		}
	} else {
		existing = MCPConfig{MCPServers: make(map[string]MCPServerConfig)}
	}
	if existing.MCPServers == nil {
		existing.MCPServers = make(map[string]MCPServerConfig)
	}

	binPath, err := findOwnBinary()
	if err != nil {
		return false, fmt.Errorf("find alicerag binary: %w", err)
	}

	existing.MCPServers["alicerag"] = MCPServerConfig{
		Type:    "stdio",
		Command: binPath,
		Args:    []string{"serve"},
		Cwd:     root,
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(mcpPath, data, 0o644); err != nil {
		return false, fmt.Errorf("write .mcp.json: %w", err)
	}

	out.Statusf("📝", "Created %s", mcpPath)
	return true, nil
}

// findOwnBinary locates the running alicerag binary, resolving
// symlinks so .mcp.json points at the real install.
func findOwnBinary() (string, error) {
	execPath, err := os.Executable()
	if err == nil {
		if realPath, err := filepath.EvalSymlinks(execPath); err == nil {
			return realPath, nil
		}
		return execPath, nil
	}

	path, err := exec.LookPath("alicerag")
	if err != nil {
		return "", fmt.Errorf("alicerag not found in PATH: %w", err)
	}
	return path, nil
}
