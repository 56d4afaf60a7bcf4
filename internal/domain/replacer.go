package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ilpatch.dev/pkg/ilpatch/internal/adapter"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// BackupSuffix marks the pre-patch copy of a target.
const BackupSuffix = ".bak"

const defaultFileMode os.FileMode = 0o644

// BackupPath returns the backup location of a target.
func BackupPath(target m.Path) m.Path {
	return CanonicalPath(target) + BackupSuffix
}

// CanonicalPath strips the backup suffix, if any.
func CanonicalPath(path m.Path) m.Path {
	return m.Path(strings.TrimSuffix(string(path), BackupSuffix))
}

// IsBackupPath reports whether path names a backup copy.
func IsBackupPath(path m.Path) bool {
	return strings.HasSuffix(string(path), BackupSuffix)
}

// ResolveSource returns the file to read for target: the target itself, or its
// backup when the target is absent.
func ResolveSource(fs adapter.BinaryFSAdapter, target m.Path) (m.Path, error) {
	canonical := CanonicalPath(target)

	for _, candidate := range []m.Path{canonical, BackupPath(canonical)} {
		_, err := fs.FileInfo(candidate)
		if err == nil {
			if IsBackupPath(candidate) {
				slog.Info("target missing, using backup", "target", canonical, "backup", candidate)
			}

			return candidate, nil
		}

		if !errors.Is(err, os.ErrNotExist) {
			return "", newPatchError(KindLoad, canonical, "stat", err)
		}
	}

	return "", newPatchError(KindTargetMissing, canonical, "resolve", os.ErrNotExist)
}

// Replaced reports where a replacement landed.
type Replaced struct {
	Output m.Path
	Backup m.Path
}

// Replacer commits new image bytes over a target.
type Replacer interface {
	// Replace writes data over the canonical path of source. With keepBackup the
	// pre-patch bytes of source are first copied to the backup path, replacing
	// any earlier backup. The rename is the only step that touches the target.
	Replace(ctx context.Context, source m.Path, data []byte, keepBackup bool) (Replaced, error)
}

type replacer struct {
	fs adapter.BinaryFSAdapter
}

// NewReplacer constructs a Replacer on fs.
func NewReplacer(fs adapter.BinaryFSAdapter) Replacer {
	return &replacer{fs: fs}
}

func (r *replacer) Replace(ctx context.Context, source m.Path, data []byte, keepBackup bool) (Replaced, error) {
	final := CanonicalPath(source)
	result := Replaced{Output: final}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	mode := defaultFileMode
	if info, err := r.fs.FileInfo(source); err == nil {
		mode = info.Mode().Perm()
	}

	if keepBackup {
		backup := BackupPath(final)

		// A source that is the backup already holds the pre-patch bytes.
		if !IsBackupPath(source) {
			if err := r.fs.CopyFile(source, backup); err != nil {
				slog.Error("backup failed", "source", source, "backup", backup, "error", err)
				return result, newPatchError(KindBackup, final, "copy "+string(backup), err)
			}
		}

		result.Backup = backup
		slog.Debug("backup written", "backup", backup)
	}

	dir := m.Path(filepath.Dir(string(final)))
	pattern := fmt.Sprintf(".%s.*.tmp", filepath.Base(string(final)))

	tmp, err := r.fs.WriteTemp(dir, pattern, data, mode)
	if err != nil {
		slog.Error("temporary write failed", "dir", dir, "error", err)
		return result, newPatchError(KindAccessDenied, final, "write temporary file", err)
	}

	if err := ctx.Err(); err != nil {
		if rmErr := r.fs.Remove(tmp); rmErr != nil {
			slog.Warn("temporary file not removed", "temp", tmp, "error", rmErr)
		}

		return result, err
	}

	if err := r.fs.Rename(tmp, final); err != nil {
		slog.Error("rename failed, temporary file kept", "temp", tmp, "target", final, "error", err)

		return result, &PatchError{Kind: KindRename, Path: final, Op: "rename", Temp: tmp, Err: err}
	}

	slog.Info("target replaced", "target", final, "size", len(data))

	return result, nil
}
