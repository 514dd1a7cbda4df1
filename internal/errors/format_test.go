package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_NilError(t *testing.T) {
	assert.Equal(t, "", FormatForUser(nil, false))
}

func TestFormatForUser_PlainError(t *testing.T) {
	err := errors.New("something broke")
	assert.Equal(t, "something broke", FormatForUser(err, false))
}

func TestFormatForUser_IncludesSuggestionAndCode(t *testing.T) {
	// Given: a structured error with a suggestion
	err := New(ErrCodeServiceUnavailable, "embedding service unreachable", nil).
		WithSuggestion("Start the embedding service")

	// When: formatting for the user
	out := FormatForUser(err, false)

	// Then: message, suggestion, and code all appear
	assert.Contains(t, out, "embedding service unreachable")
	assert.Contains(t, out, "Start the embedding service")
	assert.Contains(t, out, ErrCodeServiceUnavailable)
}

func TestFormatForUser_DebugShowsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New(ErrCodeServiceUnavailable, "embedding service unreachable", cause)

	plain := FormatForUser(err, false)
	debug := FormatForUser(err, true)

	assert.NotContains(t, plain, "connection refused")
	assert.Contains(t, debug, "connection refused")
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("plain failure"))

	assert.Contains(t, out, "plain failure")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatForCLI_NilError(t *testing.T) {
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON_RoundTrips(t *testing.T) {
	// Given: a fully populated error
	err := New(ErrCodeStoreCorrupt, "database disk image is malformed", errors.New("sqlite: corrupt")).
		WithDetail("path", "/data/metadata.db").
		WithSuggestion("The store will be rebuilt automatically")

	// When: formatting as JSON
	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	// Then: all fields survive
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, ErrCodeStoreCorrupt, parsed["code"])
	assert.Equal(t, "database disk image is malformed", parsed["message"])
	assert.Equal(t, string(CategoryStorage), parsed["category"])
	assert.Equal(t, "sqlite: corrupt", parsed["cause"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestFormatForLog_StructuredFields(t *testing.T) {
	err := New(ErrCodeParseTimeout, "parse exceeded deadline", nil).
		WithDetail("path", "/docs/big.pdf")

	fields := FormatForLog(err)

	assert.Equal(t, ErrCodeParseTimeout, fields["error_code"])
	assert.Equal(t, string(CategoryStorage), fields["category"])
	assert.Equal(t, "/docs/big.pdf", fields["detail_path"])
}

func TestFormatForLog_PlainError(t *testing.T) {
	fields := FormatForLog(errors.New("oops"))
	assert.Equal(t, "oops", fields["error"])
}

func TestFormatForLog_NilError(t *testing.T) {
	assert.Nil(t, FormatForLog(nil))
}
