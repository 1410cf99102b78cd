// Package fakesign wraps raw executables into mock signed containers and
// unwraps them again. The container carries real header fields (PAID, program
// type, versions) but the signature is non-cryptographic by design.
package fakesign

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ps5dev/backport/internal/domain"
)

// Container header layout, little-endian:
//
//	0x00  magic            [4]byte
//	0x04  format version   uint32
//	0x08  header size      uint32
//	0x0C  program type     uint32
//	0x10  PAID             uint64
//	0x18  app version      uint64
//	0x20  firmware version uint64
//	0x28  payload size     uint64
//	0x30  auth-info digest [16]byte
const (
	headerSize    = 64
	formatVersion = 1
)

// Signer implements domain.Signer with fixed header parameters.
type Signer struct {
	params domain.SignerParams
}

// NewSigner creates a signer for the given header parameters.
func NewSigner(params domain.SignerParams) *Signer {
	return &Signer{params: params}
}

// Sign wraps the raw executable at inputPath into a signed container at
// outputPath. Refuses inputs that do not carry the executable magic.
func (s *Signer) Sign(inputPath, outputPath string) error {
	payload, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read executable: %w", err)
	}
	if len(payload) < 4 || !bytes.Equal(payload[:4], domain.ELFMagic) {
		return fmt.Errorf("%s is not a raw executable", inputPath)
	}

	header := make([]byte, headerSize)
	copy(header[0:4], domain.SELFMagic)
	binary.LittleEndian.PutUint32(header[4:], formatVersion)
	binary.LittleEndian.PutUint32(header[8:], headerSize)
	binary.LittleEndian.PutUint32(header[12:], s.params.PType)
	binary.LittleEndian.PutUint64(header[16:], s.params.PAID)
	binary.LittleEndian.PutUint64(header[24:], s.params.AppVersion)
	binary.LittleEndian.PutUint64(header[32:], s.params.FWVersion)
	binary.LittleEndian.PutUint64(header[40:], uint64(len(payload)))
	if len(s.params.AuthInfo) > 0 {
		digest := sha256.Sum256(s.params.AuthInfo)
		copy(header[48:64], digest[:16])
	}

	return os.WriteFile(outputPath, append(header, payload...), 0644)
}

// Factory implements domain.SignerFactory.
type Factory struct{}

// New builds a signer for the given header parameters.
func (Factory) New(params domain.SignerParams) (domain.Signer, error) {
	return NewSigner(params), nil
}

// Decoder implements domain.Decoder, reversing a signed container back into a
// raw executable.
type Decoder struct{}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Convert unwraps the container at inputPath and writes the embedded raw
// executable to outputPath.
func (d *Decoder) Convert(inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read container: %w", err)
	}
	if len(data) < headerSize {
		return fmt.Errorf("%s is too short to be a signed container", inputPath)
	}

	// Both container variants share the header layout.
	if !bytes.Equal(data[:4], domain.SELFMagic) && !bytes.Equal(data[:4], domain.SELFMagicAlt) {
		return fmt.Errorf("%s is not a signed container", inputPath)
	}

	hdrSize := binary.LittleEndian.Uint32(data[8:])
	payloadSize := binary.LittleEndian.Uint64(data[40:])
	// Compare by subtraction: summing hdrSize+payloadSize overflows on crafted
	// size fields and would slide a corrupt container past the check.
	if hdrSize < headerSize || uint64(hdrSize) > uint64(len(data)) ||
		payloadSize > uint64(len(data))-uint64(hdrSize) {
		return fmt.Errorf("%s has a truncated payload", inputPath)
	}

	payload := data[hdrSize : uint64(hdrSize)+payloadSize]
	if len(payload) < 4 || !bytes.Equal(payload[:4], domain.ELFMagic) {
		return fmt.Errorf("%s payload is not a raw executable", inputPath)
	}

	return os.WriteFile(outputPath, payload, 0644)
}

var (
	_ domain.Signer        = (*Signer)(nil)
	_ domain.SignerFactory = Factory{}
	_ domain.Decoder       = (*Decoder)(nil)
)
