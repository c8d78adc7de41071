package daemon

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultIgnorePatterns skip editor swap and backup files. Hidden files are
// always skipped.
var DefaultIgnorePatterns = []string{
	"*~",
	"*.swp",
	"*.swx",
	"*.tmp",
	"#*#",
	"4913",
}

// Filter decides which paths the watcher ignores.
type Filter struct {
	root     string
	patterns []glob.Glob
}

// NewFilter compiles patterns. Each pattern is matched against both the
// base name and the slash-separated path relative to root; * does not cross
// a path separator, ** does.
func NewFilter(root string, patterns []string) (*Filter, error) {
	f := &Filter{root: root}
	for _, p := range append(append([]string{}, DefaultIgnorePatterns...), patterns...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

// ShouldIgnore reports whether path is hidden or matches an ignore pattern.
func (f *Filter) ShouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}

	rel := base
	if r, err := filepath.Rel(f.root, path); err == nil && !strings.HasPrefix(r, "..") {
		rel = filepath.ToSlash(r)
		// Hidden directories below the root.
		for _, part := range strings.Split(rel, "/") {
			if strings.HasPrefix(part, ".") && part != "." {
				return true
			}
		}
	}

	for _, g := range f.patterns {
		if g.Match(base) || g.Match(rel) {
			return true
		}
	}
	return false
}
