package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCmd_NothingToIndex(t *testing.T) {
	setupTestEnv(t)
	chdirTemp(t)

	cmd := newIndexCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to index")
}

func TestIndexCmd_PathMissing(t *testing.T) {
	setupTestEnv(t)
	chdirTemp(t)

	cmd := newIndexCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline", "does-not-exist"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path does not exist: does-not-exist")
}

func TestIndexCmd_Flags(t *testing.T) {
	cmd := newIndexCmd()

	recursive := cmd.Flags().Lookup("recursive")
	require.NotNil(t, recursive)
	assert.Equal(t, "true", recursive.DefValue)

	for _, name := range []string{"plain", "no-color", "force", "offline"} {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, "missing flag %s", name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestIndexCmd_OfflineEndToEnd(t *testing.T) {
	dataDir := setupTestEnv(t)
	wd := chdirTemp(t)

	docsDir := filepath.Join(wd, "docs")
	require.NoError(t, os.Mkdir(docsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "backup.md"),
		[]byte("# Backup\n\nRotate backups nightly and verify the restore path weekly.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "pruning.md"),
		[]byte("# Pruning\n\nPrune stale snapshots once the retention window has passed.\n"), 0o644))

	var stdout bytes.Buffer
	cmd := newIndexCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline", "docs"})

	err := cmd.Execute()
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "Complete:")
	assert.Contains(t, out, "2 files")
	assert.True(t, indexExists(dataDir), "expected index metadata in %s", dataDir)

	// Re-running without changes skips everything.
	var rerun bytes.Buffer
	cmd = newIndexCmd()
	cmd.SetOut(&rerun)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline", "docs"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, rerun.String(), "Complete: 0 files")
}

func TestIndexCmd_ForceRebuilds(t *testing.T) {
	setupTestEnv(t)
	wd := chdirTemp(t)

	docsDir := filepath.Join(wd, "docs")
	require.NoError(t, os.Mkdir(docsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "note.md"),
		[]byte("# Note\n\nA single note about scheduled maintenance windows.\n"), 0o644))

	cmd := newIndexCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline", "docs"})
	require.NoError(t, cmd.Execute())

	// --force clears first, so the unchanged file is indexed again.
	var stdout bytes.Buffer
	cmd = newIndexCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline", "--force", "docs"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "Complete: 1 files")
}
