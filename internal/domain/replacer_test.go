package domain_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/adapter"
	"ilpatch.dev/pkg/ilpatch/internal/adapter/mocks"
	"ilpatch.dev/pkg/ilpatch/internal/domain"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, m.Path("dir/App.dll.bak"), domain.BackupPath("dir/App.dll"))
	assert.Equal(t, m.Path("dir/App.dll.bak"), domain.BackupPath("dir/App.dll.bak"))
	assert.Equal(t, m.Path("dir/App.dll"), domain.CanonicalPath("dir/App.dll.bak"))
	assert.Equal(t, m.Path("dir/App.dll"), domain.CanonicalPath("dir/App.dll"))
	assert.True(t, domain.IsBackupPath("App.dll.bak"))
	assert.False(t, domain.IsBackupPath("App.dll"))
}

func TestResolveSource(t *testing.T) {
	fs := adapter.NewLocalBinaryFSAdapter()

	t.Run("target present", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "App.dll")
		writeBytes(t, target, "target")
		writeBytes(t, target+".bak", "backup")

		source, err := domain.ResolveSource(fs, m.Path(target))
		require.NoError(t, err)
		assert.Equal(t, m.Path(target), source)

		source, err = domain.ResolveSource(fs, m.Path(target+".bak"))
		require.NoError(t, err)
		assert.Equal(t, m.Path(target), source, "a backup path resolves to its target first")
	})

	t.Run("falls back to backup", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "App.dll")
		writeBytes(t, target+".bak", "backup")

		source, err := domain.ResolveSource(fs, m.Path(target))
		require.NoError(t, err)
		assert.Equal(t, m.Path(target+".bak"), source)
	})

	t.Run("both missing", func(t *testing.T) {
		target := m.Path(filepath.Join(t.TempDir(), "App.dll"))

		_, err := domain.ResolveSource(fs, target)
		require.ErrorIs(t, err, domain.ErrTargetMissing)
		require.ErrorIs(t, err, os.ErrNotExist)

		kind, ok := domain.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.KindTargetMissing, kind)
	})
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	replacer := domain.NewReplacer(adapter.NewLocalBinaryFSAdapter())

	t.Run("without backup", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "App.dll")
		writeBytes(t, target, "original")

		replaced, err := replacer.Replace(ctx, m.Path(target), []byte("patched"), false)
		require.NoError(t, err)

		assert.Equal(t, m.Path(target), replaced.Output)
		assert.Empty(t, replaced.Backup)
		assert.Equal(t, "patched", readString(t, target))
		assert.NoFileExists(t, target+".bak")
		assertNoTemp(t, dir)
	})

	t.Run("backup replaces an earlier backup", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "App.dll")
		writeBytes(t, target, "original")
		writeBytes(t, target+".bak", "a much older and longer backup")

		replaced, err := replacer.Replace(ctx, m.Path(target), []byte("patched"), true)
		require.NoError(t, err)

		assert.Equal(t, m.Path(target+".bak"), replaced.Backup)
		assert.Equal(t, "original", readString(t, target+".bak"))
		assert.Equal(t, "patched", readString(t, target))
		assertNoTemp(t, dir)
	})

	t.Run("source is the backup", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "App.dll")
		writeBytes(t, target+".bak", "original")

		replaced, err := replacer.Replace(ctx, m.Path(target+".bak"), []byte("patched"), true)
		require.NoError(t, err)

		assert.Equal(t, m.Path(target), replaced.Output)
		assert.Equal(t, "original", readString(t, target+".bak"))
		assert.Equal(t, "patched", readString(t, target))
	})

	t.Run("keeps file mode", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "App.dll")
		writeBytes(t, target, "original")
		require.NoError(t, os.Chmod(target, 0o600))

		_, err := replacer.Replace(ctx, m.Path(target), []byte("patched"), false)
		require.NoError(t, err)

		info, err := os.Stat(target)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("canceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		target := filepath.Join(t.TempDir(), "App.dll")
		writeBytes(t, target, "original")

		_, err := replacer.Replace(canceled, m.Path(target), []byte("patched"), false)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, "original", readString(t, target))
	})
}

func TestReplace_Failures(t *testing.T) {
	ctx := context.Background()
	source := m.Path(filepath.Join("bin", "App.dll"))
	backup := m.Path(filepath.Join("bin", "App.dll.bak"))
	tmp := m.Path(filepath.Join("bin", ".App.dll.1234.tmp"))
	errDisk := errors.New("disk full")

	t.Run("rename leaves temporary file", func(t *testing.T) {
		fs := mocks.NewMockBinaryFSAdapter(t)
		fs.EXPECT().FileInfo(source).Return(nil, os.ErrNotExist)
		fs.EXPECT().WriteTemp(m.Path("bin"), ".App.dll.*.tmp", []byte("patched"), os.FileMode(0o644)).Return(tmp, nil)
		fs.EXPECT().Rename(tmp, source).Return(errDisk)

		_, err := domain.NewReplacer(fs).Replace(ctx, source, []byte("patched"), false)
		require.ErrorIs(t, err, domain.ErrRename)
		require.ErrorIs(t, err, errDisk)

		var pe *domain.PatchError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, tmp, pe.Temp)
		assert.Equal(t, source, pe.Path)
		assert.Contains(t, err.Error(), string(tmp))
	})

	t.Run("temporary write", func(t *testing.T) {
		fs := mocks.NewMockBinaryFSAdapter(t)
		fs.EXPECT().FileInfo(source).Return(nil, os.ErrNotExist)
		fs.EXPECT().WriteTemp(mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", os.ErrPermission)

		_, err := domain.NewReplacer(fs).Replace(ctx, source, []byte("patched"), false)
		require.ErrorIs(t, err, domain.ErrAccessDenied)
		require.ErrorIs(t, err, os.ErrPermission)
	})

	t.Run("canceled after temporary write", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fs := mocks.NewMockBinaryFSAdapter(t)
		fs.EXPECT().FileInfo(source).Return(nil, os.ErrNotExist)
		fs.EXPECT().WriteTemp(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			RunAndReturn(func(m.Path, string, []byte, os.FileMode) (m.Path, error) {
				cancel()
				return tmp, nil
			})
		fs.EXPECT().Remove(tmp).Return(nil)

		_, err := domain.NewReplacer(fs).Replace(ctx, source, []byte("patched"), false)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("backup copy", func(t *testing.T) {
		fs := mocks.NewMockBinaryFSAdapter(t)
		fs.EXPECT().FileInfo(source).Return(nil, os.ErrNotExist)
		fs.EXPECT().CopyFile(source, backup).Return(errDisk)

		_, err := domain.NewReplacer(fs).Replace(ctx, source, []byte("patched"), true)
		require.ErrorIs(t, err, domain.ErrBackup)
		require.ErrorIs(t, err, errDisk)
	})
}

func TestReplace_RenameFailureKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "App.dll")
	writeBytes(t, target, "original")

	// A directory at the destination makes the rename fail after the temporary
	// file is complete.
	blocked := filepath.Join(dir, "Blocked.dll")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "inner"), 0o755))

	local := adapter.NewLocalBinaryFSAdapter()
	fs := mocks.NewMockBinaryFSAdapter(t)
	fs.EXPECT().FileInfo(mock.Anything).RunAndReturn(local.FileInfo)
	fs.EXPECT().WriteTemp(mock.Anything, mock.Anything, mock.Anything, mock.Anything).RunAndReturn(local.WriteTemp)
	fs.EXPECT().Rename(mock.Anything, m.Path(target)).RunAndReturn(func(oldPath, _ m.Path) error {
		return local.Rename(oldPath, m.Path(blocked))
	})

	_, err := domain.NewReplacer(fs).Replace(context.Background(), m.Path(target), []byte("patched"), false)
	require.ErrorIs(t, err, domain.ErrRename)

	var pe *domain.PatchError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "patched", readString(t, string(pe.Temp)))
	assert.Equal(t, "original", readString(t, target))
}

func writeBytes(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readString(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func assertNoTemp(t *testing.T, dir string) {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
