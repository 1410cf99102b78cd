// Package infra contains filesystem-facing implementations of the domain
// interfaces.
package infra

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/ps5dev/backport/internal/domain"
)

// MagicClassifier implements domain.FileClassifier using the first four bytes
// of a file.
type MagicClassifier struct{}

// NewMagicClassifier creates a new magic-byte classifier.
func NewMagicClassifier() domain.FileClassifier {
	return &MagicClassifier{}
}

// Classify returns the class of the file at path. Backup files left behind by
// the patch engine must never be mistaken for processable inputs, so both
// backup suffixes win over content. Any read error yields ClassUnknown.
func (c *MagicClassifier) Classify(path string) domain.FileClass {
	name := strings.ToLower(path)
	if strings.HasSuffix(name, domain.BackupSuffix) || strings.HasSuffix(name, domain.RevertBackupSuffix) {
		return domain.ClassBackup
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.ClassUnknown
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return domain.ClassUnknown
	}

	switch {
	case bytes.Equal(magic, domain.ELFMagic):
		return domain.ClassRawExecutable
	case bytes.Equal(magic, domain.SELFMagic), bytes.Equal(magic, domain.SELFMagicAlt):
		return domain.ClassSignedContainer
	default:
		return domain.ClassUnknown
	}
}

// Ensure MagicClassifier implements domain.FileClassifier.
var _ domain.FileClassifier = (*MagicClassifier)(nil)
