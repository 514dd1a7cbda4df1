// Package gitignore implements gitignore-style pattern matching, as
// documented at https://git-scm.com/docs/gitignore, for the document
// scanner. A Matcher is built once from pattern lines and is then safe
// for concurrent Match calls.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Matcher holds compiled ignore rules. Later rules override earlier
// ones, so a negation ("!pattern") can re-include a path that an
// earlier rule ignored.
type Matcher struct {
	rules []rule
}

type rule struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
	base     string
}

// New returns an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern compiles one pattern line. Blank lines and comments are
// dropped.
func (m *Matcher) AddPattern(line string) {
	m.AddPatternWithBase(line, "")
}

// AddPatternWithBase compiles a pattern that applies only to paths
// under base (slash-separated, relative to the scan root). An empty
// base applies everywhere.
func (m *Matcher) AddPatternWithBase(line, base string) {
	r, ok := compileRule(line, base)
	if !ok {
		return
	}
	m.rules = append(m.rules, r)
}

// AddFromFile reads pattern lines from a gitignore file.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open gitignore: %w", err)
	}
	defer func() { _ = f.Close() }()

	lines := bufio.NewScanner(f)
	for lines.Scan() {
		m.AddPatternWithBase(lines.Text(), base)
	}
	if err := lines.Err(); err != nil {
		return fmt.Errorf("read gitignore: %w", err)
	}
	return nil
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Match reports whether the path should be ignored. The path is
// relative to the scan root; the last matching rule wins.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)

	ignored := false
	for _, r := range m.rules {
		if r.matches(relPath, isDir) {
			ignored = !r.negation
		}
	}
	return ignored
}

func compileRule(line, base string) (rule, bool) {
	// "\ " at the end of a pattern keeps the trailing space; plain
	// trailing whitespace is stripped.
	keepTrailingSpace := strings.HasSuffix(line, `\ `)
	line = strings.TrimSpace(line)

	if line == "" {
		return rule{}, false
	}
	if strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	r := rule{base: base}

	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negation = true
		line = line[1:]
	}

	if keepTrailingSpace && strings.HasSuffix(line, `\`) {
		line = strings.TrimSuffix(line, `\`) + " "
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	// A separator anywhere in the pattern anchors it to the root:
	// "doc/frotz" means /doc/frotz, not **/doc/frotz.
	if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") && !strings.HasPrefix(line, "*") {
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + globToRegex(line) + "$")
	return r, true
}

func (r rule) matches(relPath string, isDir bool) bool {
	if r.base != "" {
		switch {
		case relPath == r.base:
			relPath = lastComponent(relPath)
		case strings.HasPrefix(relPath, r.base+"/"):
			relPath = strings.TrimPrefix(relPath, r.base+"/")
		default:
			return false
		}
	}

	parts := strings.Split(relPath, "/")
	basename := parts[len(parts)-1]

	if r.anchored {
		if r.regex.MatchString(relPath) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		// A dir-only anchored rule also covers everything inside the
		// matched directory.
		if r.dirOnly {
			for i := range parts[:len(parts)-1] {
				if r.regex.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	if r.regex.MatchString(basename) || r.regex.MatchString(relPath) {
		return true
	}
	for _, part := range parts {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

func lastComponent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// globToRegex translates one gitignore glob into a regular expression.
// "**/" crosses directories, "*" and "?" stop at separators, character
// classes pass through, and backslash escapes the next character.
func globToRegex(glob string) string {
	var out strings.Builder

	for i := 0; i < len(glob); {
		c := glob[i]
		switch c {
		case '*':
			if strings.HasPrefix(glob[i:], "**/") {
				out.WriteString("(?:.*/)?")
				i += 3
				continue
			}
			if strings.HasPrefix(glob[i:], "**") && (i == 0 || glob[i-1] == '/') {
				out.WriteString(".*")
				i += 2
				continue
			}
			out.WriteString("[^/]*")
			i++
		case '?':
			out.WriteString("[^/]")
			i++
		case '[':
			if end := strings.IndexByte(glob[i:], ']'); end > 0 {
				out.WriteString(glob[i : i+end+1])
				i += end + 1
			} else {
				out.WriteString(regexp.QuoteMeta("["))
				i++
			}
		case '\\':
			if i+1 < len(glob) {
				out.WriteString(regexp.QuoteMeta(string(glob[i+1])))
				i += 2
			} else {
				out.WriteString(regexp.QuoteMeta(`\`))
				i++
			}
		default:
			out.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	return out.String()
}
