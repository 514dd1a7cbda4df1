package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmbstyle/alicerag/internal/config"
)

func TestConfigCmd_HasSubcommands(t *testing.T) {
	cmd := newConfigCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"init", "show", "path", "backups", "restore"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestConfigInit_CreatesUserConfig(t *testing.T) {
	setupTestEnv(t)

	var stdout bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"init"})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.True(t, config.UserConfigExists(), "user config should exist after init")
	assert.Contains(t, stdout.String(), "Created user configuration")

	data, err := os.ReadFile(config.GetUserConfigPath())
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "embeddings:")
	assert.Contains(t, content, "search:")
}

func TestConfigInit_ExistingWithoutForce(t *testing.T) {
	setupTestEnv(t)

	run := func() string {
		var stdout bytes.Buffer
		cmd := newConfigCmd()
		cmd.SetOut(&stdout)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"init"})
		require.NoError(t, cmd.Execute())
		return stdout.String()
	}

	first := run()
	assert.Contains(t, first, "Created user configuration")

	second := run()
	assert.Contains(t, second, "already exists")
	assert.Contains(t, second, "--force")
}

func TestConfigInit_ForceUpgradePreservesSettings(t *testing.T) {
	setupTestEnv(t)

	// A config written by an older release: customized, with fields
	// introduced since then missing.
	configPath := config.GetUserConfigPath()
	require.NoError(t, os.MkdirAll(config.GetUserConfigDir(), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\nsearch:\n  top_k: 42\n"), 0o644))

	var stdout bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"init", "--force"})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "Configuration upgraded")
	assert.Contains(t, out, "Backup:")

	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "top_k: 42", "custom setting should survive the upgrade")
}

func TestConfigShow_Defaults(t *testing.T) {
	setupTestEnv(t)

	var stdout bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--source", "defaults"})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "defaults (hardcoded)")
	assert.Contains(t, out, "search:")
	assert.Contains(t, out, "embeddings:")
}

func TestConfigShow_JSON(t *testing.T) {
	setupTestEnv(t)

	var stdout bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--source", "defaults", "--json"})

	err := cmd.Execute()
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	assert.NotEmpty(t, payload)
}

func TestConfigShow_UserMissing(t *testing.T) {
	setupTestEnv(t)

	var stdout bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--source", "user"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "No user configuration file found")
}

func TestConfigShow_InvalidSource(t *testing.T) {
	setupTestEnv(t)

	cmd := newConfigCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--source", "nope"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source")
}

func TestConfigPath(t *testing.T) {
	setupTestEnv(t)

	var stdout bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"path"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "config.yaml")
}

func TestConfigBackups_Empty(t *testing.T) {
	setupTestEnv(t)

	var stdout bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"backups"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "No config backups found")
}

func TestConfigRestore_MissingBackup(t *testing.T) {
	setupTestEnv(t)

	cmd := newConfigCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"restore", "/no/such/backup.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read backup")
}

func TestConfigRestore_RoundTrip(t *testing.T) {
	setupTestEnv(t)

	// Create a config, force an upgrade to get a backup, then restore
	// that backup.
	run := func(args ...string) string {
		var stdout bytes.Buffer
		cmd := newConfigCmd()
		cmd.SetOut(&stdout)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())
		return stdout.String()
	}

	run("init")
	run("init", "--force")

	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	require.NotEmpty(t, backups)

	out := run("restore", backups[0])
	assert.Contains(t, out, "Configuration restored")
	assert.Contains(t, out, "The replaced config was backed up first")
	assert.True(t, config.UserConfigExists())
}
