package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogEntry is one parsed JSON log line.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Source  string         `json:"source"`
	Attrs   map[string]any `json:"-"`
	Raw     string         `json:"-"`
	IsValid bool           `json:"-"`
}

// ViewerConfig filters and styles viewer output.
type ViewerConfig struct {
	// Level drops entries below this level when set.
	Level string

	// Pattern drops lines that do not match when set.
	Pattern *regexp.Regexp

	// NoColor disables ANSI colors.
	NoColor bool

	// ShowSource prefixes each line with its source label.
	ShowSource bool
}

// Viewer reads, filters, and formats log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a viewer writing formatted entries to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail returns the last n matching entries of one file.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	return v.TailFiles([]string{path}, n)
}

// TailFiles merges the last n matching entries across files, sorted
// into one timeline.
func (v *Viewer) TailFiles(paths []string, n int) ([]LogEntry, error) {
	var entries []LogEntry
	var firstErr error

	for _, path := range paths {
		fileEntries, err := v.tailFile(path, n)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entries = append(entries, fileEntries...)
	}
	if len(entries) == 0 && firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// tailFile reads one file's last n matching entries.
func (v *Viewer) tailFile(path string, n int) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	source := sourceFromPath(path)

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	var entries []LogEntry
	for _, line := range lines {
		entry := v.parseLine(line, source)
		if v.matches(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Follow streams new matching entries of one file until the context
// ends.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	return v.FollowFiles(ctx, []string{path}, entries)
}

// FollowFiles streams new matching entries from several files into
// one channel until the context ends.
func (v *Viewer) FollowFiles(ctx context.Context, paths []string, entries chan<- LogEntry) error {
	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			v.followFile(ctx, p, entries)
		}(path)
	}
	wg.Wait()
	return nil
}

// followFile polls one file for appended lines from its current end.
func (v *Viewer) followFile(ctx context.Context, path string, entries chan<- LogEntry) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return
	}

	source := sourceFromPath(path)
	reader := bufio.NewReader(file)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					break
				}
				line = strings.TrimSuffix(line, "\n")
				if line == "" {
					continue
				}
				entry := v.parseLine(line, source)
				if !v.matches(entry) {
					continue
				}
				select {
				case entries <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Print writes formatted entries to the viewer's output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

// FormatEntry renders one entry as "time level [source] msg k=v".
// Lines that never parsed come back raw.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	var b strings.Builder
	b.WriteString(entry.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.formatLevel(entry.Level))
	b.WriteByte(' ')
	if v.config.ShowSource && entry.Source != "" {
		b.WriteString(v.formatSource(entry.Source))
		b.WriteByte(' ')
	}
	b.WriteString(entry.Msg)

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Attrs[k])
	}
	return b.String()
}

// parseLine decodes one JSON line; the source fills in when the line
// itself does not carry one.
func (v *Viewer) parseLine(line, source string) LogEntry {
	entry := LogEntry{Raw: line, Source: source}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if s, ok := data["time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			entry.Time = ts
		}
	}
	if s, ok := data["level"].(string); ok {
		entry.Level = s
	}
	if s, ok := data["msg"].(string); ok {
		entry.Msg = s
	}
	if s, ok := data["source"].(string); ok && s != "" {
		entry.Source = s
	}

	entry.Attrs = make(map[string]any)
	for k, val := range data {
		switch k {
		case "time", "level", "msg", "source":
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

func (v *Viewer) matches(entry LogEntry) bool {
	if v.config.Level != "" {
		if LevelFromString(entry.Level) < LevelFromString(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

func (v *Viewer) formatLevel(level string) string {
	label := strings.ToUpper(level)
	if len(label) > 5 {
		label = label[:5]
	}
	label = fmt.Sprintf("%-5s", label)
	if v.config.NoColor {
		return label
	}
	switch strings.ToLower(level) {
	case "debug":
		return "\033[90m" + label + "\033[0m"
	case "info":
		return "\033[32m" + label + "\033[0m"
	case "warn", "warning":
		return "\033[33m" + label + "\033[0m"
	case "error":
		return "\033[31m" + label + "\033[0m"
	default:
		return label
	}
}

func (v *Viewer) formatSource(source string) string {
	label := "[" + source + "]"
	if v.config.NoColor {
		return label
	}
	switch source {
	case "engine":
		return "\033[36m" + label + "\033[0m"
	case "embedder":
		return "\033[35m" + label + "\033[0m"
	default:
		return "\033[90m" + label + "\033[0m"
	}
}

// sourceFromPath labels entries by their file name.
func sourceFromPath(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "engine"):
		return "engine"
	case strings.HasPrefix(base, "embedder"):
		return "embedder"
	default:
		return strings.TrimSuffix(base, ".log")
	}
}
