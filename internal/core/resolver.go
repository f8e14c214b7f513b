package core

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceResolver enumerates files under a root by extension.
//
// The returned list is strictly sorted so the compiler sees the same argument
// order on every machine, regardless of directory listing order.
type SourceResolver struct {
	// Root is the directory to walk.
	Root string
}

// NewSourceResolver creates a new SourceResolver rooted at root.
func NewSourceResolver(root string) *SourceResolver {
	return &SourceResolver{Root: root}
}

// Resolve returns the absolute paths of every regular file under Root whose
// name ends in one of exts (case-insensitive). A missing Root is an error.
func (r *SourceResolver) Resolve(exts ...string) ([]string, error) {
	info, err := os.Stat(r.Root)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", r.Root)
	}

	var files []string
	err = filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if hasAnySuffixFold(d.Name(), exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", r.Root, err)
	}

	sort.Strings(files)
	return files, nil
}

func hasAnySuffixFold(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
