package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusInfo_JSONSerialization(t *testing.T) {
	// Given: populated status info
	info := StatusInfo{
		DataDir:         "/home/alice/.alicerag",
		Documents:       100,
		Chunks:          500,
		Vectors:         500,
		LastIndexed:     time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		MetadataSize:    1024 * 1024,
		KeywordSize:     2 * 1024 * 1024,
		VectorSize:      10 * 1024 * 1024,
		TotalSize:       13 * 1024 * 1024,
		KeywordBackend:  "fts5",
		EmbedderBackend: "service",
		EmbedderStatus:  "ready",
		EmbedderModel:   "all-MiniLM-L6-v2",
		WatcherStatus:   "running",
	}

	// When: serializing to JSON
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then: JSON is valid and carries the snake_case fields
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, "/home/alice/.alicerag", parsed["data_dir"])
	assert.Equal(t, float64(100), parsed["documents"])
	assert.Equal(t, float64(500), parsed["chunks"])
	assert.Equal(t, "fts5", parsed["keyword_backend"])
	assert.Equal(t, "service", parsed["embedder_backend"])
	assert.Equal(t, "running", parsed["watcher_status"])
}

func TestStatusRenderer_Render_Basic(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, false)

	// When: rendering status info
	info := StatusInfo{
		DataDir:         "/data/.alicerag",
		Documents:       50,
		Chunks:          250,
		Vectors:         250,
		LastIndexed:     time.Now(),
		MetadataSize:    512 * 1024,
		KeywordSize:     1024 * 1024,
		VectorSize:      5 * 1024 * 1024,
		TotalSize:       6*1024*1024 + 512*1024,
		KeywordBackend:  "bleve",
		EmbedderBackend: "service",
		EmbedderStatus:  "ready",
		EmbedderModel:   "all-MiniLM-L6-v2",
		WatcherStatus:   "stopped",
	}

	require.NoError(t, r.Render(info))

	// Then: output contains key information
	output := buf.String()
	assert.Contains(t, output, "/data/.alicerag")
	assert.Contains(t, output, "50")
	assert.Contains(t, output, "250")
	assert.Contains(t, output, "bleve")
	assert.Contains(t, output, "service")
	assert.Contains(t, output, "ready")
	assert.Contains(t, output, "just now")
}

func TestStatusRenderer_Render_VectorShortfall(t *testing.T) {
	// Given: fewer vectors than chunks (embedder was offline)
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	info := StatusInfo{
		DataDir:   "/data/.alicerag",
		Documents: 10,
		Chunks:    40,
		Vectors:   25,
	}

	require.NoError(t, r.Render(info))

	// Then: the vector count gets its own line
	assert.Contains(t, buf.String(), "Vectors:      25")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, false)

	// When: rendering as JSON
	info := StatusInfo{
		DataDir:   "/tmp/lib",
		Documents: 25,
		Chunks:    100,
	}

	require.NoError(t, r.RenderJSON(info))

	// Then: output round-trips
	var parsed StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "/tmp/lib", parsed.DataDir)
	assert.Equal(t, 25, parsed.Documents)
}

func TestStatusRenderer_NoColor(t *testing.T) {
	// Given: status renderer with noColor
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	// When: rendering
	info := StatusInfo{
		DataDir:        "/data/.alicerag",
		EmbedderStatus: "ready",
	}

	require.NoError(t, r.Render(info))

	// Then: no ANSI codes in output
	output := buf.String()
	assert.NotContains(t, output, "\x1b[")
}

func TestStatusRenderer_EmbedderOffline(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, false)

	// When: rendering with offline embedder
	info := StatusInfo{
		DataDir:         "/data/.alicerag",
		EmbedderBackend: "static",
		EmbedderStatus:  "offline",
	}

	require.NoError(t, r.Render(info))

	// Then: shows offline status
	assert.Contains(t, buf.String(), "offline")
}

func TestStatusRenderer_KeywordInsideMetadata(t *testing.T) {
	// Given: FTS keyword index living inside the metadata database
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	info := StatusInfo{
		DataDir:        "/data/.alicerag",
		MetadataSize:   3 * 1024 * 1024,
		KeywordSize:    0,
		VectorSize:     1024 * 1024,
		TotalSize:      4 * 1024 * 1024,
		KeywordBackend: "fts5",
	}

	require.NoError(t, r.Render(info))

	// Then: no separate keyword storage line, backend still named
	output := buf.String()
	assert.NotContains(t, output, "Keyword:  0 B")
	assert.Contains(t, output, "Keyword backend: fts5")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{1024 * 1024 * 1024, "1.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatBytes(tt.bytes))
		})
	}
}

func TestFormatTime_Relative(t *testing.T) {
	tests := []struct {
		name string
		ago  time.Duration
		want string
	}{
		{"seconds", 30 * time.Second, "just now"},
		{"one minute", 90 * time.Second, "1 minute ago"},
		{"minutes", 5 * time.Minute, "5 minutes ago"},
		{"one hour", 90 * time.Minute, "1 hour ago"},
		{"hours", 5 * time.Hour, "5 hours ago"},
		{"days", 3 * 24 * time.Hour, "3 days ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTime(time.Now().Add(-tt.ago)))
		})
	}
}

func TestFormatTime_OldDatesAbsolute(t *testing.T) {
	// Given: a timestamp older than a week
	old := time.Date(2026, 1, 2, 15, 4, 0, 0, time.Local)

	// Then: rendered as an absolute date
	assert.Equal(t, "2026-01-02 15:04", formatTime(old))
}
