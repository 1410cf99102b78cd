package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ps5dev/backport/internal/domain"
)

// FakelibCopier implements domain.FakelibPropagator. It mirrors the support
// library into the output root and into every directory holding the marker
// file, replacing pre-existing copies wholesale (never merging).
type FakelibCopier struct {
	walker domain.DirectoryWalker
	logger *zap.Logger
}

// NewFakelibCopier creates a new propagator.
func NewFakelibCopier(walker domain.DirectoryWalker, logger *zap.Logger) domain.FakelibPropagator {
	return &FakelibCopier{walker: walker, logger: logger}
}

// Propagate mirrors source into outputRoot/fakelib, then into every other
// directory under outputRoot containing the marker file. Each copy is
// independent: a failure at one location is recorded and siblings proceed.
func (c *FakelibCopier) Propagate(source, outputRoot string) *domain.FakelibReport {
	report := &domain.FakelibReport{Locations: []string{}}

	info, err := os.Stat(source)
	if os.IsNotExist(err) {
		// Optional feature: a missing source is a soft no-op.
		report.Success = true
		report.Message = fmt.Sprintf("fakelib directory not found at %s (skipping)", source)
		return report
	}
	if err != nil {
		report.Message = fmt.Sprintf("failed to stat fakelib source: %v", err)
		return report
	}
	if !info.IsDir() {
		report.Message = fmt.Sprintf("fakelib path exists but is not a directory: %s", source)
		return report
	}

	rootDest := filepath.Join(outputRoot, domain.FakelibDirName)
	if err := c.mirror(source, rootDest); err != nil {
		report.Message = fmt.Sprintf("failed to copy fakelib: %v", err)
		return report
	}
	report.Success = true
	report.Message = fmt.Sprintf("copied fakelib directory from %s (%d files)", source, countFiles(rootDest))
	c.logger.Info("copied fakelib to output root", zap.String("dest", rootDest))

	for _, dir := range c.markerDirs(outputRoot) {
		dest := filepath.Join(dir, domain.FakelibDirName)
		if err := c.mirror(source, dest); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", dest, err))
			c.logger.Warn("failed to copy fakelib to marker directory",
				zap.String("dest", dest),
				zap.Error(err))
			continue
		}
		report.Created++
		report.Locations = append(report.Locations, dest)
		c.logger.Info("copied fakelib to marker directory", zap.String("dest", dest))
	}

	return report
}

// markerDirs returns every distinct directory under outputRoot, other than
// outputRoot itself, that contains the marker file.
func (c *FakelibCopier) markerDirs(outputRoot string) []string {
	files, err := c.walker.Walk(outputRoot, domain.WalkOptions{})
	if err != nil {
		c.logger.Warn("marker scan failed", zap.String("root", outputRoot), zap.Error(err))
		return nil
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, path := range files {
		if !strings.EqualFold(filepath.Base(path), domain.MarkerFileName) {
			continue
		}
		dir := filepath.Dir(path)
		if dir == filepath.Clean(outputRoot) || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return dirs
}

// mirror replaces dest with a fresh copy of source.
func (c *FakelibCopier) mirror(source, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return copyTree(source, dest)
}

// Ensure FakelibCopier implements domain.FakelibPropagator.
var _ domain.FakelibPropagator = (*FakelibCopier)(nil)
