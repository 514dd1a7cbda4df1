package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveCmd_RequiresArgs(t *testing.T) {
	cmd := newRemoveCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
}

func TestRemoveCmd_NoIndex(t *testing.T) {
	setupTestEnv(t)

	var stdout bytes.Buffer
	cmd := newRemoveCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"/tmp/whatever.md"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "No index found, nothing to remove")
}

func TestRemoveCmd_NoMatch(t *testing.T) {
	dataDir := setupTestEnv(t)
	seedEmptyStore(t, dataDir)

	var stdout bytes.Buffer
	cmd := newRemoveCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"/tmp/never-indexed.md"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "No indexed documents matched")
}

func TestRemoveCmd_RemovesFile(t *testing.T) {
	setupTestEnv(t)
	docsDir := indexSampleDocs(t)

	var stdout bytes.Buffer
	cmd := newRemoveCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(docsDir, "backup.md")})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Removed 1 documents")

	// The remaining document still answers keyword queries.
	var searchOut bytes.Buffer
	search := newSearchCmd()
	search.SetOut(&searchOut)
	search.SetErr(&bytes.Buffer{})
	search.SetArgs([]string{"--offline", "--keyword-only", "retention"})

	require.NoError(t, search.Execute())
	assert.Contains(t, searchOut.String(), "pruning.md")
}

func TestRemoveCmd_RemovesDirectory(t *testing.T) {
	setupTestEnv(t)
	docsDir := indexSampleDocs(t)

	var stdout bytes.Buffer
	cmd := newRemoveCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{docsDir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Removed 2 documents")
}
