// Package fixtures provides test helpers that synthesize fake binary trees.
package fixtures

import (
	"os"
	"path/filepath"

	"github.com/ps5dev/backport/internal/domain"
	"github.com/ps5dev/backport/internal/fakesign"
)

// ELFBytes returns a minimal raw-executable image carrying the given payload
// after the 16-byte identity header.
func ELFBytes(payload []byte) []byte {
	header := make([]byte, 16)
	copy(header, domain.ELFMagic)
	return append(header, payload...)
}

// WriteELF writes a fake raw executable to path, creating parent directories.
func WriteELF(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, ELFBytes(payload), 0644)
}

// WriteSELF writes a fake signed container wrapping an executable with the
// given payload, creating parent directories.
func WriteSELF(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	elfPath := path + ".elf.tmp"
	if err := os.WriteFile(elfPath, ELFBytes(payload), 0644); err != nil {
		return err
	}
	defer os.Remove(elfPath)

	signer := fakesign.NewSigner(domain.SignerParams{
		PAID:  fakesign.DefaultPAID,
		PType: fakesign.PTypeFake,
	})
	return signer.Sign(elfPath, path)
}
