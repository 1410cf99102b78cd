package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCopier() *FakelibCopier {
	return &FakelibCopier{walker: NewFSWalker(), logger: zap.NewNop()}
}

func makeFakelibSource(t *testing.T) string {
	t.Helper()
	source := filepath.Join(t.TempDir(), "fakelib-src")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "libc.prx"), []byte("lib"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "sub", "extra.prx"), []byte("extra"), 0644))
	return source
}

func TestFakelibCopier_MirrorsIntoOutputRoot(t *testing.T) {
	source := makeFakelibSource(t)
	output := t.TempDir()

	report := newTestCopier().Propagate(source, output)
	assert.True(t, report.Success)

	content, err := os.ReadFile(filepath.Join(output, "fakelib", "libc.prx"))
	require.NoError(t, err)
	assert.Equal(t, "lib", string(content))

	_, err = os.Stat(filepath.Join(output, "fakelib", "sub", "extra.prx"))
	assert.NoError(t, err)
}

func TestFakelibCopier_ReplacesExistingCopyWholesale(t *testing.T) {
	source := makeFakelibSource(t)
	output := t.TempDir()

	// Pre-existing copy with a stale file that must not survive.
	stale := filepath.Join(output, "fakelib", "stale.prx")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	report := newTestCopier().Propagate(source, output)
	assert.True(t, report.Success)

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestFakelibCopier_MissingSourceIsSoftNoOp(t *testing.T) {
	output := t.TempDir()

	report := newTestCopier().Propagate(filepath.Join(t.TempDir(), "nope"), output)
	assert.True(t, report.Success)
	assert.Contains(t, report.Message, "skipping")

	_, err := os.Stat(filepath.Join(output, "fakelib"))
	assert.True(t, os.IsNotExist(err))
}

func TestFakelibCopier_SourceNotADirectoryFails(t *testing.T) {
	output := t.TempDir()
	source := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0644))

	report := newTestCopier().Propagate(source, output)
	assert.False(t, report.Success)
	assert.Contains(t, report.Message, "not a directory")
}

func TestFakelibCopier_PropagatesToMarkerDirectories(t *testing.T) {
	source := makeFakelibSource(t)
	output := t.TempDir()

	mkTree(t, output,
		"gameA/eboot.bin",
		"gameB/nested/EBOOT.BIN",
		"gameC/other.self",
		"eboot.bin", // output root itself is never a marker target
	)

	report := newTestCopier().Propagate(source, output)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Created)
	assert.Len(t, report.Locations, 2)

	_, err := os.Stat(filepath.Join(output, "gameA", "fakelib", "libc.prx"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(output, "gameB", "nested", "fakelib", "libc.prx"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(output, "gameC", "fakelib"))
	assert.True(t, os.IsNotExist(err))
}
