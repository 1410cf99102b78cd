package infra

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ps5dev/backport/internal/domain"
)

// LibcPatcher implements domain.PatchEngine. Every mutation follows the same
// discipline: optional backup copy, destructive overwrite, read-back verify,
// restore-from-backup on failure. The engine treats that sequence as the
// atomic unit; it never assumes the filesystem provides atomic writes.
type LibcPatcher struct {
	logger *zap.Logger
}

// NewLibcPatcher creates a new patch engine.
func NewLibcPatcher(logger *zap.Logger) domain.PatchEngine {
	return &LibcPatcher{logger: logger}
}

// Check reports which of the two patterns each file carries. Read-only.
func (p *LibcPatcher) Check(root string, files []domain.FileRecord, spec domain.PatchSpec) *domain.CheckReport {
	report := &domain.CheckReport{
		Operation:      "check_libc_patch_status",
		InputDir:       root,
		SearchPattern:  hex.EncodeToString(spec.Search),
		ReplacePattern: hex.EncodeToString(spec.Replacement),
		TotalFiles:     len(files),
		Timestamp:      domain.Timestamp(),
	}

	for _, file := range files {
		content, err := os.ReadFile(file.Path)
		if err != nil {
			report.Errors = append(report.Errors, domain.PatchFileInfo{
				Path:    file.Path,
				RelPath: file.RelPath,
				Error:   err.Error(),
			})
			continue
		}

		info := domain.PatchFileInfo{
			Path:        file.Path,
			RelPath:     file.RelPath,
			HasOriginal: bytes.Contains(content, spec.Search),
			HasPatch:    bytes.Contains(content, spec.Replacement),
		}

		switch {
		case info.HasOriginal && info.HasPatch:
			// Contradictory state. Flagged, never auto-resolved.
			p.logger.Warn("file contains both patterns",
				zap.String("path", file.Path))
			report.BothPatterns = append(report.BothPatterns, info)
		case info.HasOriginal:
			report.Original = append(report.Original, info)
		case info.HasPatch:
			report.Patched = append(report.Patched, info)
		default:
			report.NoPattern = append(report.NoPattern, info)
		}
	}

	return report
}

// Apply replaces all occurrences of the original pattern with the replacement.
func (p *LibcPatcher) Apply(root string, files []domain.FileRecord, spec domain.PatchSpec, backup bool) *domain.PatchReport {
	return p.mutate("apply_libc_patch", root, files, spec, domain.BackupSuffix, domain.StatusApplied, backup)
}

// Revert restores the original pattern. Structurally identical to Apply with
// the roles reversed and a distinct backup suffix.
func (p *LibcPatcher) Revert(root string, files []domain.FileRecord, spec domain.PatchSpec, backup bool) *domain.PatchReport {
	return p.mutate("revert_libc_patch", root, files, spec.Reversed(), domain.RevertBackupSuffix, domain.StatusReverted, backup)
}

func (p *LibcPatcher) mutate(
	operation, root string,
	files []domain.FileRecord,
	spec domain.PatchSpec,
	backupSuffix string,
	successStatus domain.PatchStatus,
	backup bool,
) *domain.PatchReport {
	report := &domain.PatchReport{
		Operation:      operation,
		InputDir:       root,
		SearchPattern:  hex.EncodeToString(spec.Search),
		ReplacePattern: hex.EncodeToString(spec.Replacement),
		Files:          make(map[string]domain.PatchFileResult),
		Timestamp:      domain.Timestamp(),
	}

	for _, file := range files {
		result := p.mutateFile(file.Path, spec, backupSuffix, successStatus, backup)
		report.Files[file.Path] = result

		switch result.Status {
		case successStatus:
			if successStatus == domain.StatusReverted {
				report.Reverted++
			} else {
				report.Applied++
			}
			p.logger.Info("patched file",
				zap.String("operation", operation),
				zap.String("path", file.Path))
		case domain.StatusAlreadyPatched:
			report.AlreadyPatched++
		case domain.StatusNotFound:
			report.PatternNotFound++
		default:
			report.Failed++
			p.logger.Warn("patch failed",
				zap.String("operation", operation),
				zap.String("path", file.Path),
				zap.String("message", result.Message))
		}
	}

	return report
}

// mutateFile performs the backup -> overwrite -> verify -> restore-or-accept
// sequence on a single file.
func (p *LibcPatcher) mutateFile(
	path string,
	spec domain.PatchSpec,
	backupSuffix string,
	successStatus domain.PatchStatus,
	backup bool,
) domain.PatchFileResult {
	info, err := os.Stat(path)
	if err != nil {
		return domain.PatchFileResult{Status: domain.StatusError, Message: fmt.Sprintf("error reading file: %v", err)}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return domain.PatchFileResult{Status: domain.StatusError, Message: fmt.Sprintf("error reading file: %v", err)}
	}

	// Target-state check runs first: a file carrying the replacement pattern is
	// already patched even when the search pattern is gone, which is exactly the
	// state a second apply sees.
	if bytes.Contains(content, spec.Replacement) {
		// Already in target state, or contradictory. Either way: hands off.
		return domain.PatchFileResult{Status: domain.StatusAlreadyPatched, Message: "file already contains replacement pattern"}
	}
	if !bytes.Contains(content, spec.Search) {
		return domain.PatchFileResult{Status: domain.StatusNotFound, Message: "search pattern not found in file"}
	}

	backupPath := ""
	if backup {
		backupPath = path + backupSuffix
		if err := copyFile(path, backupPath); err != nil {
			return domain.PatchFileResult{Status: domain.StatusError, Message: fmt.Sprintf("error creating backup: %v", err)}
		}
	}

	restore := func() {
		if backupPath != "" {
			if err := copyFile(backupPath, path); err != nil {
				p.logger.Error("failed to restore backup",
					zap.String("path", path),
					zap.Error(err))
			}
		}
	}

	patched := bytes.ReplaceAll(content, spec.Search, spec.Replacement)
	if err := os.WriteFile(path, patched, info.Mode().Perm()); err != nil {
		restore()
		return domain.PatchFileResult{Status: domain.StatusError, Backup: backupPath, Message: fmt.Sprintf("error during patching: %v", err)}
	}

	// Re-read and re-scan: the only cheap correctness check available for a
	// format with no application-level checksum.
	written, err := os.ReadFile(path)
	if err != nil {
		restore()
		return domain.PatchFileResult{Status: domain.StatusError, Backup: backupPath, Message: fmt.Sprintf("error verifying patch: %v", err)}
	}

	if bytes.Contains(written, spec.Search) || !bytes.Contains(written, spec.Replacement) {
		restore()
		return domain.PatchFileResult{Status: domain.StatusVerifyFailed, Backup: backupPath, Message: "patch verification failed"}
	}

	// Mutation accepted as durable; the backup is no longer needed.
	if backupPath != "" {
		if err := os.Remove(backupPath); err != nil {
			p.logger.Debug("failed to remove backup",
				zap.String("path", backupPath),
				zap.Error(err))
		}
	}

	return domain.PatchFileResult{Status: successStatus, Backup: backupPath, Message: "patch applied successfully"}
}

// Ensure LibcPatcher implements domain.PatchEngine.
var _ domain.PatchEngine = (*LibcPatcher)(nil)
