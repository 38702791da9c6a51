package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartial_RemovesFileAndSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.zip"), []byte("keep"), 0o644))

	p, err := Track(dir, "file.zip", ControlFileSuffix)
	require.NoError(t, err)
	assert.False(t, p.Existed())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.zip"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.zip.aria2"), []byte("ctl"), 0o644))

	require.NoError(t, p.Remove(context.Background()))

	assert.NoFileExists(t, filepath.Join(dir, "file.zip"))
	assert.NoFileExists(t, filepath.Join(dir, "file.zip.aria2"))
	assert.FileExists(t, filepath.Join(dir, "other.zip"))
}

func TestPartial_KeepsFilesThatAlreadyExisted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.zip"), []byte("user data"), 0o644))

	p, err := Track(dir, "file.zip", ControlFileSuffix)
	require.NoError(t, err)
	assert.True(t, p.Existed())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.zip.aria2"), []byte("ctl"), 0o644))

	require.NoError(t, p.Remove(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "file.zip"))
	require.NoError(t, err)
	assert.Equal(t, "user data", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "file.zip.aria2"))
}

func TestPartial_MissingFilesAreFine(t *testing.T) {
	p, err := Track(t.TempDir(), "never-created.bin", ControlFileSuffix)
	require.NoError(t, err)

	assert.NoError(t, p.Remove(context.Background()))
}

func TestTrack_RejectsUnsafeNames(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"", ".", "..", "../escape", `a\b`} {
		t.Run(name, func(t *testing.T) {
			_, err := Track(dir, name)
			assert.Error(t, err)
		})
	}
}

func TestPartial_ReportsFailures(t *testing.T) {
	dir := t.TempDir()

	p, err := Track(dir, "busy")
	require.NoError(t, err)

	// A non-empty directory cannot be removed with os.Remove.
	nested := filepath.Join(dir, "busy")
	require.NoError(t, os.MkdirAll(filepath.Join(nested, "child"), 0o755))

	assert.Error(t, p.Remove(context.Background()))
	assert.DirExists(t, nested)
}
