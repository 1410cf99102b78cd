package fakesign

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ps5dev/backport/internal/domain"
)

func writeELF(t *testing.T, dir string, payload []byte) string {
	t.Helper()
	content := make([]byte, 16)
	copy(content, domain.ELFMagic)
	path := filepath.Join(dir, "app.elf")
	require.NoError(t, os.WriteFile(path, append(content, payload...), 0644))
	return path
}

func TestSigner_SignProducesContainer(t *testing.T) {
	dir := t.TempDir()
	input := writeELF(t, dir, []byte("payload"))
	output := filepath.Join(dir, "app.self")

	signer := NewSigner(domain.SignerParams{
		PAID:       DefaultPAID,
		PType:      PTypeFake,
		AppVersion: 5,
		FWVersion:  9,
	})
	require.NoError(t, signer.Sign(input, output))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, domain.SELFMagic, data[:4])
	assert.Equal(t, PTypeFake, binary.LittleEndian.Uint32(data[12:]))
	assert.Equal(t, DefaultPAID, binary.LittleEndian.Uint64(data[16:]))
	assert.Equal(t, uint64(5), binary.LittleEndian.Uint64(data[24:]))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(data[32:]))
}

func TestSigner_RejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(input, []byte("hello"), 0644))

	signer := NewSigner(domain.SignerParams{PAID: DefaultPAID, PType: PTypeFake})
	err := signer.Sign(input, filepath.Join(dir, "out.self"))
	assert.Error(t, err)
}

func TestSignThenConvertRoundTrips(t *testing.T) {
	dir := t.TempDir()
	input := writeELF(t, dir, []byte("round-trip-payload"))
	container := filepath.Join(dir, "app.self")
	restored := filepath.Join(dir, "restored.elf")

	signer := NewSigner(domain.SignerParams{PAID: DefaultPAID, PType: PTypeFake})
	require.NoError(t, signer.Sign(input, container))
	require.NoError(t, NewDecoder().Convert(container, restored))

	original, err := os.ReadFile(input)
	require.NoError(t, err)
	roundTripped, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, original, roundTripped)
}

func TestDecoder_RejectsNonContainer(t *testing.T) {
	dir := t.TempDir()
	input := writeELF(t, dir, nil)

	err := NewDecoder().Convert(input, filepath.Join(dir, "out.elf"))
	assert.Error(t, err)
}

func TestDecoder_RejectsTruncatedContainer(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "short.self")
	require.NoError(t, os.WriteFile(input, domain.SELFMagic, 0644))

	err := NewDecoder().Convert(input, filepath.Join(dir, "out.elf"))
	assert.Error(t, err)
}

func TestDecoder_RejectsCorruptPayloadSize(t *testing.T) {
	dir := t.TempDir()
	input := writeELF(t, dir, []byte("payload"))
	container := filepath.Join(dir, "app.self")

	signer := NewSigner(domain.SignerParams{PAID: DefaultPAID, PType: PTypeFake})
	require.NoError(t, signer.Sign(input, container))

	// Inflate the declared payload size past the file end.
	data, err := os.ReadFile(container)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(data[40:], uint64(len(data)))
	require.NoError(t, os.WriteFile(container, data, 0644))

	err = NewDecoder().Convert(container, filepath.Join(dir, "out.elf"))
	assert.Error(t, err)
}

func TestDecoder_RejectsOverflowingPayloadSize(t *testing.T) {
	dir := t.TempDir()
	input := writeELF(t, dir, []byte("payload"))
	container := filepath.Join(dir, "app.self")

	signer := NewSigner(domain.SignerParams{PAID: DefaultPAID, PType: PTypeFake})
	require.NoError(t, signer.Sign(input, container))

	// A max-value size field wraps header+payload arithmetic back below the
	// file length; the decoder must reject it as truncated, not slice past
	// the buffer.
	data, err := os.ReadFile(container)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(data[40:], ^uint64(0))
	require.NoError(t, os.WriteFile(container, data, 0644))

	err = NewDecoder().Convert(container, filepath.Join(dir, "out.elf"))
	assert.Error(t, err)
}

func TestDecoder_AcceptsAlternateMagic(t *testing.T) {
	dir := t.TempDir()
	input := writeELF(t, dir, []byte("variant payload"))
	container := filepath.Join(dir, "app.self")

	signer := NewSigner(domain.SignerParams{PAID: DefaultPAID, PType: PTypeFake})
	require.NoError(t, signer.Sign(input, container))

	// Rewrite the magic to the alternate variant; the header layout is shared.
	data, err := os.ReadFile(container)
	require.NoError(t, err)
	copy(data[:4], domain.SELFMagicAlt)
	require.NoError(t, os.WriteFile(container, data, 0644))

	restored := filepath.Join(dir, "restored.elf")
	require.NoError(t, NewDecoder().Convert(container, restored))

	original, err := os.ReadFile(input)
	require.NoError(t, err)
	roundTripped, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, original, roundTripped)
}
