package infra

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ps5dev/backport/internal/domain"
)

// FSWalker implements domain.DirectoryWalker over the local filesystem.
type FSWalker struct{}

// NewFSWalker creates a new filesystem walker.
func NewFSWalker() domain.DirectoryWalker {
	return &FSWalker{}
}

// Walk returns all regular files under root. Subdirectories matching
// opts.ExcludeDirName (case-insensitive) are pruned entirely; their contents
// are never visited.
func (w *FSWalker) Walk(root string, opts domain.WalkOptions) ([]string, error) {
	var files []string
	exclude := strings.ToLower(opts.ExcludeDirName)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if exclude != "" && path != root && strings.ToLower(d.Name()) == exclude {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Ensure FSWalker implements domain.DirectoryWalker.
var _ domain.DirectoryWalker = (*FSWalker)(nil)
