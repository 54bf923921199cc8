// Package tree merges new blobs into a base tree listing.
//
// Listings are flat and recursive: every entry carries its full slash-separated
// path. Directory entries in a base listing are structural; they are used to
// detect file/directory collisions and are implied by the leaf paths of a
// composition, so Compose returns leaves only.
package tree

import (
	"sort"
	"strings"

	"github.com/matsen/atomicpush/internal/objstore"
)

// Composition is the result of merging new blobs into a base listing.
type Composition struct {
	// Entries is the full leaf listing of the new tree, sorted by path.
	Entries []objstore.TreeEntry
	// Changed holds the entries that differ from the base, sorted by path.
	Changed []objstore.TreeEntry
}

// Compose merges blobs into base. Each blob overrides the base entry at the
// same path; every other base leaf passes through unchanged. The result does
// not depend on the order of either input.
//
// A blob whose path is a directory in base, whose parent is a file in base, or
// that is a directory prefix of another blob yields a *objstore.PathConflictError.
func Compose(base, blobs []objstore.TreeEntry) (*Composition, error) {
	baseByPath := make(map[string]objstore.TreeEntry, len(base))
	baseDirs := make(map[string]bool)
	for _, e := range base {
		baseByPath[e.Path] = e
		if e.IsDir() {
			baseDirs[e.Path] = true
		}
		for _, parent := range parents(e.Path) {
			baseDirs[parent] = true
		}
	}

	newByPath := make(map[string]objstore.TreeEntry, len(blobs))
	for _, b := range blobs {
		if err := ValidatePath(b.Path); err != nil {
			return nil, err
		}
		if prev, ok := newByPath[b.Path]; ok && prev.Hash != b.Hash {
			return nil, &objstore.PathConflictError{Path: b.Path, Reason: "path given twice with different content"}
		}
		newByPath[b.Path] = normalize(b)
	}

	// Check in sorted order so the reported path is deterministic.
	newPaths := sortedKeys(newByPath)
	for _, p := range newPaths {
		if baseDirs[p] {
			return nil, &objstore.PathConflictError{Path: p, Reason: "a directory already exists at this path"}
		}
		for _, parent := range parents(p) {
			if existing, ok := baseByPath[parent]; ok && !existing.IsDir() {
				return nil, &objstore.PathConflictError{Path: p, Reason: "parent " + parent + " is a file"}
			}
			if _, ok := newByPath[parent]; ok {
				return nil, &objstore.PathConflictError{Path: parent, Reason: "also used as a directory by " + p}
			}
		}
	}

	merged := make(map[string]objstore.TreeEntry, len(base)+len(blobs))
	for _, e := range base {
		if e.IsDir() {
			continue
		}
		merged[e.Path] = e
	}

	var changed []objstore.TreeEntry
	for _, p := range newPaths {
		e := newByPath[p]
		if old, ok := merged[p]; !ok || old.Hash != e.Hash || old.Mode != e.Mode {
			changed = append(changed, e)
		}
		merged[p] = e
	}

	entries := make([]objstore.TreeEntry, 0, len(merged))
	for _, p := range sortedKeys(merged) {
		entries = append(entries, merged[p])
	}

	return &Composition{Entries: entries, Changed: changed}, nil
}

// normalize fills in the default mode and type of a new blob entry.
func normalize(e objstore.TreeEntry) objstore.TreeEntry {
	if e.Mode == "" {
		e.Mode = objstore.ModeRegular
	}
	if e.Type == "" {
		e.Type = objstore.TypeBlob
	}
	return e
}

// parents returns every proper directory prefix of p, shortest first.
// parents("a/b/c") is ["a", "a/b"].
func parents(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

func sortedKeys(m map[string]objstore.TreeEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidatePath rejects paths that cannot be written as-is. Paths are never
// normalized: a leading slash, empty, "." or ".." segments, backslashes, NUL
// bytes and ".git" segments are all PathConflict-class errors.
func ValidatePath(p string) error {
	reject := func(reason string) error {
		return &objstore.PathConflictError{Path: p, Reason: reason}
	}

	switch {
	case p == "":
		return reject("empty path")
	case strings.HasPrefix(p, "/"):
		return reject("path must be relative")
	case strings.HasSuffix(p, "/"):
		return reject("path must name a file")
	case strings.ContainsRune(p, '\\'):
		return reject("backslash in path")
	case strings.ContainsRune(p, 0):
		return reject("NUL byte in path")
	}

	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return reject("empty path segment")
		case ".", "..":
			return reject("relative path segment " + seg)
		}
		if strings.EqualFold(seg, ".git") {
			return reject(".git is reserved")
		}
	}
	return nil
}
