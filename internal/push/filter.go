package push

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Filter drops request paths that must never be published, such as
// instruction or notes files that live next to the real content.
//
// A pattern containing "/" is matched against the full path; "*" stays within
// one segment and "**" crosses segments. A pattern without "/" is matched
// against the base name at any depth.
type Filter struct {
	patterns []string
	full     []glob.Glob
	base     []glob.Glob
}

// NewFilter compiles exclusion patterns.
func NewFilter(patterns ...string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, p)
		if strings.Contains(p, "/") {
			f.full = append(f.full, g)
		} else {
			f.base = append(f.base, g)
		}
	}
	return f, nil
}

// Patterns returns the compiled patterns.
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	return f.patterns
}

// Match reports whether p is excluded.
func (f *Filter) Match(p string) bool {
	if f == nil {
		return false
	}
	for _, g := range f.full {
		if g.Match(p) {
			return true
		}
	}
	name := path.Base(p)
	for _, g := range f.base {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Split separates files into the ones to publish and the sorted excluded paths.
func (f *Filter) Split(files map[string]string) (map[string]string, []string) {
	kept := make(map[string]string, len(files))
	var excluded []string
	for p, content := range files {
		if f.Match(p) {
			excluded = append(excluded, p)
			continue
		}
		kept[p] = content
	}
	sort.Strings(excluded)
	return kept, excluded
}
