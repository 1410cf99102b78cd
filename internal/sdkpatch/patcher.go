// Package sdkpatch rewrites the embedded SDK version fields of a raw
// executable so it claims compatibility with an older toolchain.
package sdkpatch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ps5dev/backport/internal/domain"
)

// Version fields live in the executable header identity padding.
const (
	newVersionOffset = 8
	oldVersionOffset = 12
	minHeaderSize    = 16
)

// supportedPairs maps SDK pair identifiers to (new, old) version words.
var supportedPairs = map[int]domain.VersionPair{
	1:  {New: 0x01000041, Old: 0x05500001},
	2:  {New: 0x02000031, Old: 0x07000001},
	3:  {New: 0x03000041, Old: 0x08000001},
	4:  {New: 0x04000031, Old: 0x09040001},
	5:  {New: 0x05000051, Old: 0x09600001},
	6:  {New: 0x06000041, Old: 0x10000001},
	7:  {New: 0x07000031, Old: 0x10400001},
	8:  {New: 0x08000041, Old: 0x11000001},
	9:  {New: 0x09000021, Old: 0x11020001},
	10: {New: 0x10000031, Old: 0x11520001},
}

// SupportedPairs returns all supported SDK version pairs.
func SupportedPairs() map[int]domain.VersionPair {
	pairs := make(map[int]domain.VersionPair, len(supportedPairs))
	for k, v := range supportedPairs {
		pairs[k] = v
	}
	return pairs
}

// PairInfo returns the version pair for an identifier, if supported.
func PairInfo(sdkPair int) (domain.VersionPair, bool) {
	pair, ok := supportedPairs[sdkPair]
	return pair, ok
}

// Patcher implements domain.VersionPatcher for one configured SDK pair.
type Patcher struct {
	pair         domain.VersionPair
	createBackup bool
}

// New creates a patcher for the given SDK pair.
func New(sdkPair int, createBackup bool) (*Patcher, error) {
	pair, ok := supportedPairs[sdkPair]
	if !ok {
		return nil, fmt.Errorf("unsupported SDK pair: %d", sdkPair)
	}
	return &Patcher{pair: pair, createBackup: createBackup}, nil
}

// CurrentVersions returns the configured (new, old) version pair.
func (p *Patcher) CurrentVersions() (uint32, uint32) {
	return p.pair.New, p.pair.Old
}

// PatchInPlace rewrites the version fields of the executable at path,
// backing the original up to <path>.bak first when configured.
func (p *Patcher) PatchInPlace(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to read executable: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read executable: %w", err)
	}
	if len(content) < minHeaderSize || !bytes.Equal(content[:4], domain.ELFMagic) {
		return "", fmt.Errorf("%s is not a raw executable", path)
	}

	if p.createBackup {
		if err := os.WriteFile(path+domain.BackupSuffix, content, info.Mode().Perm()); err != nil {
			return "", fmt.Errorf("failed to create backup: %w", err)
		}
	}

	binary.LittleEndian.PutUint32(content[newVersionOffset:], p.pair.New)
	binary.LittleEndian.PutUint32(content[oldVersionOffset:], p.pair.Old)

	if err := os.WriteFile(path, content, info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("failed to write executable: %w", err)
	}

	return fmt.Sprintf("patched SDK versions to 0x%08X / 0x%08X", p.pair.New, p.pair.Old), nil
}

// Factory implements domain.VersionPatcherFactory.
type Factory struct{}

// New builds a patcher for the given SDK pair.
func (Factory) New(sdkPair int, createBackup bool) (domain.VersionPatcher, error) {
	return New(sdkPair, createBackup)
}

var (
	_ domain.VersionPatcher        = (*Patcher)(nil)
	_ domain.VersionPatcherFactory = Factory{}
)
