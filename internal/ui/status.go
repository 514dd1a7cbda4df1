package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo holds index health information for the status command.
type StatusInfo struct {
	DataDir     string    `json:"data_dir"`
	Documents   int       `json:"documents"`
	Chunks      int       `json:"chunks"`
	Vectors     int       `json:"vectors"`
	LastIndexed time.Time `json:"last_indexed"`

	// Storage footprint in bytes. KeywordSize is zero when the
	// keyword index lives inside the metadata database.
	MetadataSize int64 `json:"metadata_size"`
	KeywordSize  int64 `json:"keyword_size"`
	VectorSize   int64 `json:"vector_size"`
	TotalSize    int64 `json:"total_size"`

	KeywordBackend  string `json:"keyword_backend"`
	EmbedderBackend string `json:"embedder_backend"`
	EmbedderStatus  string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel   string `json:"embedder_model,omitempty"`
	WatcherStatus   string `json:"watcher_status"` // "running", "stopped", "n/a"

	// SyncStatus is a one-line description of the last or current
	// sync run, empty when there is nothing to report.
	SyncStatus string `json:"sync_status,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render writes a human-readable status report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.DataDir))

	_, _ = fmt.Fprintf(r.out, "  Documents:    %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.Chunks)
	if info.Vectors != info.Chunks {
		_, _ = fmt.Fprintf(r.out, "  Vectors:      %d\n", info.Vectors)
	}
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata: %s\n", FormatBytes(info.MetadataSize))
	if info.KeywordSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Keyword:  %s\n", FormatBytes(info.KeywordSize))
	}
	_, _ = fmt.Fprintf(r.out, "    Vectors:  %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	if info.KeywordBackend != "" {
		_, _ = fmt.Fprintf(r.out, "  Keyword backend: %s\n", info.KeywordBackend)
		_, _ = fmt.Fprintln(r.out)
	}

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Backend: %s\n", info.EmbedderBackend)
	_, _ = fmt.Fprintf(r.out, "    Status:  %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:   %s\n", info.EmbedderModel)
	}

	if info.WatcherStatus != "" && info.WatcherStatus != "n/a" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  Watcher: %s\n", r.renderStatus(info.WatcherStatus))
	}

	if info.SyncStatus != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  Sync: %s\n", info.SyncStatus)
	}

	return nil
}

// RenderJSON writes the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime renders a timestamp relative to now for recent times.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count in human units.
func FormatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
