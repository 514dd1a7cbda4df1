package parse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
)

// RegistryOptions configures the parser registry.
type RegistryOptions struct {
	// ParseTimeout is the wall-clock budget per file (default 120s).
	ParseTimeout time.Duration
}

// Registry maps file extensions to parsers and runs each parse under
// an isolation boundary: a worker goroutine with a hard timeout and
// panic recovery, so one bad file can never take down a batch.
type Registry struct {
	parsers map[string]Parser
	timeout time.Duration
}

// NewRegistry creates a registry with all built-in parsers.
func NewRegistry() *Registry {
	return NewRegistryWithOptions(RegistryOptions{})
}

// NewRegistryWithOptions creates a registry with custom options.
func NewRegistryWithOptions(opts RegistryOptions) *Registry {
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = DefaultParseTimeout
	}
	r := &Registry{
		parsers: make(map[string]Parser),
		timeout: opts.ParseTimeout,
	}
	r.register(NewTextParser())
	r.register(NewMarkdownParser())
	r.register(NewHTMLParser())
	r.register(NewPDFParser())
	r.register(NewDocxParser())
	return r
}

func (r *Registry) register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		r.parsers[ext] = p
	}
}

// ForPath returns the parser responsible for the path's extension.
func (r *Registry) ForPath(path string) (Parser, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	return p, ok
}

// Supports reports whether the path's extension has a parser.
func (r *Registry) Supports(path string) bool {
	_, ok := r.ForPath(path)
	return ok
}

// SupportedExtensions returns all registered extensions, sorted.
func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

type parseResult struct {
	doc *Document
	err error
}

// ParseFile parses the file at path under the isolation boundary.
// Errors come back coded: unsupported extension, missing file, parse
// failure, or timeout.
func (r *Registry) ParseFile(ctx context.Context, path string) (*Document, error) {
	parser, ok := r.ForPath(path)
	if !ok {
		return nil, alerrors.New(alerrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("no parser for %q", filepath.Ext(path)), nil).
			WithDetail("path", path)
	}

	parseCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := make(chan parseResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("parser_panic",
					slog.String("path", path),
					slog.Any("panic", rec))
				ch <- parseResult{nil, fmt.Errorf("parser panic: %v", rec)}
			}
		}()
		doc, err := parser.Parse(parseCtx, path)
		ch <- parseResult{doc, err}
	}()

	select {
	case <-parseCtx.Done():
		if errors.Is(parseCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, alerrors.New(alerrors.ErrCodeParseTimeout,
				fmt.Sprintf("parsing exceeded %s", r.timeout), parseCtx.Err()).
				WithDetail("path", path)
		}
		return nil, parseCtx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, r.wrapParseError(path, res.err)
		}
		return res.doc, nil
	}
}

func (r *Registry) wrapParseError(path string, err error) error {
	var ragErr *alerrors.RagError
	if errors.As(err, &ragErr) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return alerrors.New(alerrors.ErrCodeFileNotFound,
			"file not found", err).WithDetail("path", path)
	}
	if errors.Is(err, fs.ErrPermission) {
		return alerrors.New(alerrors.ErrCodeFilePermission,
			"file not readable", err).WithDetail("path", path)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return alerrors.New(alerrors.ErrCodeParseFailed,
		"failed to parse document", err).WithDetail("path", path)
}
