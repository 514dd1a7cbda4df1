package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()

	transport := cmd.Flags().Lookup("transport")
	require.NotNil(t, transport)
	assert.Equal(t, "stdio", transport.DefValue)

	offline := cmd.Flags().Lookup("offline")
	require.NotNil(t, offline)
	assert.Equal(t, "false", offline.DefValue)
}

func TestServeCmd_RejectsArgs(t *testing.T) {
	setupTestEnv(t)

	cmd := newServeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	err := cmd.Execute()
	assert.Error(t, err)
}

func TestServeCmd_UnknownTransport(t *testing.T) {
	setupTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newServeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--transport", "http", "--offline"})

	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

// Under go test stdin is /dev/null, so the stdio transport sees EOF
// and the server returns instead of blocking. Stdout must stay
// protocol-clean the whole time.
func TestServeCmd_Offline_StdoutStaysClean(t *testing.T) {
	setupTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := newServeCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline"})

	_ = cmd.ExecuteContext(ctx)

	out := stdout.String()
	assert.NotContains(t, out, "🚀")
	assert.NotContains(t, out, "INFO")
	assert.NotContains(t, out, "DEBUG")
	assert.NotContains(t, out, "Starting")
}

// Serving initializes the store, so the data directory appears even
// when the client disconnects immediately.
func TestServeCmd_Offline_InitializesStore(t *testing.T) {
	dataDir := setupTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newServeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--offline"})

	_ = cmd.ExecuteContext(ctx)

	assert.True(t, indexExists(dataDir), "metadata store should exist after serve")
}

// verifyStdinForMCP only complains about terminals. Under go test
// stdin is /dev/null, which is a valid pipe-like input.
func TestVerifyStdinForMCP_NonTerminal(t *testing.T) {
	assert.NoError(t, verifyStdinForMCP())
}
