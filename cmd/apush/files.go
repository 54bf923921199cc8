package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/matsen/atomicpush/internal/config"
)

// ErrBinaryFile is returned for files that are not valid UTF-8 text.
var ErrBinaryFile = errors.New("not a text file")

// skipDirs are never walked when collecting a directory.
var skipDirs = map[string]bool{
	".git":              true,
	config.WorkspaceDir: true,
}

// collectFiles reads the files to push, keyed by their slash-separated path
// under prefix. With no args every file below dir is collected; otherwise
// each arg is a file or directory relative to dir.
func collectFiles(dir string, args []string, prefix string) (map[string]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}

	files := make(map[string]string)
	for _, arg := range args {
		full := arg
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, arg)
		}

		err := filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != full && skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return fmt.Errorf("%s is outside %s", path, dir)
			}
			return addFile(files, path, config.JoinPrefix(prefix, filepath.ToSlash(rel)))
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func addFile(files map[string]string, path, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("%w: %s", ErrBinaryFile, path)
	}
	files[key] = string(data)
	return nil
}
