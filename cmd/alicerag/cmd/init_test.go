package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into a fresh temp directory and returns it
// as reported by os.Getwd, so path comparisons survive symlinked
// temp roots.
func chdirTemp(t *testing.T) string {
	t.Helper()

	origDir, err := os.Getwd()
	require.NoError(t, err)

	tmpDir := t.TempDir()
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })

	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}

func writeMCPConfig(t *testing.T, dir string, cfg MCPConfig) {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mcp.json"), data, 0o644))
}

func TestInitCmd_ConfigOnly(t *testing.T) {
	dataDir := setupTestEnv(t)
	wd := chdirTemp(t)

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only"})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "AliceRAG")
	assert.Contains(t, out, "Initializing")
	assert.Contains(t, out, "Skipping indexing (--config-only)")
	assert.Contains(t, out, "Configuration complete!")
	assert.Contains(t, out, "Next steps:")
	assert.Contains(t, out, "alicerag config init")

	assert.FileExists(t, filepath.Join(wd, ".mcp.json"))
	assert.FileExists(t, filepath.Join(wd, ".alicerag.yaml"))

	// Config-only must not touch the index.
	_, statErr := os.Stat(dataDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInitCmd_CreatesMCPJSON(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only"})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(filepath.Join(wd, ".mcp.json"))
	require.NoError(t, err)

	var cfg MCPConfig
	require.NoError(t, json.Unmarshal(data, &cfg))

	entry, ok := cfg.MCPServers["alicerag"]
	require.True(t, ok, "alicerag entry missing from .mcp.json")
	assert.Equal(t, "stdio", entry.Type)
	assert.NotEmpty(t, entry.Command)
	assert.Equal(t, []string{"serve"}, entry.Args)
	assert.Equal(t, wd, entry.Cwd)
}

func TestInitCmd_AlreadyInitialized(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	writeMCPConfig(t, wd, MCPConfig{MCPServers: map[string]MCPServerConfig{
		"alicerag": {Type: "stdio", Command: "/usr/local/bin/alicerag", Args: []string{"serve"}, Cwd: wd},
	}})

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "Already initialized (.mcp.json exists)")
	assert.Contains(t, out, "Use --force to reinitialize")
}

func TestInitCmd_InvalidMCPJSON(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(wd, ".mcp.json"), []byte("{not json"), 0o644))

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "Existing .mcp.json has configuration issues:")
	assert.Contains(t, out, "Invalid JSON in .mcp.json")
	assert.Contains(t, out, "Use --force to fix these issues")
}

func TestInitCmd_MissingCwdWarning(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	writeMCPConfig(t, wd, MCPConfig{MCPServers: map[string]MCPServerConfig{
		"alicerag": {Type: "stdio", Command: "/usr/local/bin/alicerag", Args: []string{"serve"}},
	}})

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Missing 'cwd' field")
}

func TestInitCmd_ForceReinitialize(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	writeMCPConfig(t, wd, MCPConfig{MCPServers: map[string]MCPServerConfig{
		"alicerag": {Type: "stdio", Command: "/usr/local/bin/alicerag", Args: []string{"serve"}, Cwd: wd},
	}})

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--force", "--config-only"})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.NotContains(t, out, "Already initialized")
	assert.Contains(t, out, "Configuration complete!")
}

func TestInitCmd_GeneratesLocalYAML(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "Created .alicerag.yaml")

	data, err := os.ReadFile(filepath.Join(wd, ".alicerag.yaml"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "version:")
	assert.Contains(t, content, "paths:")
	assert.Contains(t, content, "search:")
	// Nothing discovered here, so the include entries stay commented.
	assert.Contains(t, content, "#- docs")
	assert.NotContains(t, content, "embeddings:")
}

func TestInitCmd_DiscoversDocumentDirs(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	require.NoError(t, os.Mkdir(filepath.Join(wd, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wd, "README.md"), []byte("# Hello\n"), 0o644))

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "Discovered document paths:")

	data, err := os.ReadFile(filepath.Join(wd, ".alicerag.yaml"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "    - docs\n")
	assert.Contains(t, content, "    - README.md\n")
	assert.NotContains(t, content, "#- docs")
}

func TestInitCmd_PreservesExistingYAML(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	custom := "version: 1\npaths:\n  include:\n    - notes\n"
	yamlPath := filepath.Join(wd, ".alicerag.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(custom), 0o644))

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "Existing .alicerag.yaml preserved")

	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, custom, string(data))
}

func TestInitCmd_NoPathsConfigured(t *testing.T) {
	setupTestEnv(t)
	chdirTemp(t)

	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "No document paths configured yet")
	assert.Contains(t, out, "Initialization complete!")
	assert.NotContains(t, out, "Checking embedding service")
}

func TestValidateExistingMCPConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mcp.json")

	// Missing file.
	valid, warnings := validateExistingMCPConfig(path)
	assert.False(t, valid)
	assert.Empty(t, warnings)

	// Invalid JSON.
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	valid, warnings = validateExistingMCPConfig(path)
	assert.False(t, valid)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Invalid JSON")

	// No alicerag entry.
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"other":{"command":"x"}}}`), 0o644))
	valid, warnings = validateExistingMCPConfig(path)
	assert.False(t, valid)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "alicerag not configured")

	// Entry missing cwd and command.
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"alicerag":{}}}`), 0o644))
	valid, warnings = validateExistingMCPConfig(path)
	assert.False(t, valid)
	assert.Len(t, warnings, 2)

	// Complete entry.
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"mcpServers":{"alicerag":{"command":"/bin/alicerag","cwd":"/tmp"}}}`), 0o644))
	valid, warnings = validateExistingMCPConfig(path)
	assert.True(t, valid)
	assert.Empty(t, warnings)
}

func TestFindOwnBinary(t *testing.T) {
	path, err := findOwnBinary()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.True(t, filepath.IsAbs(path))
}
