// Package adapter contains infrastructure adapters for the ilpatch CLI.
package adapter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// BinaryFSAdapter abstracts the filesystem operations the patch workflow needs.
// It hides direct `os` access so the workflow can be tested without touching
// the disk.
//
//nolint:interfacebloat // The replacer needs every primitive of the temp-then-rename protocol.
type BinaryFSAdapter interface {
	// ReadFile loads a whole file. The handle is closed before it returns.
	ReadFile(path m.Path) ([]byte, error)

	// FileInfo returns metadata for a path.
	FileInfo(path m.Path) (os.FileInfo, error)

	// CopyFile copies src to dst, replacing dst.
	CopyFile(src, dst m.Path) error

	// WriteTemp writes content to a new temporary file in dir and returns its path.
	WriteTemp(dir m.Path, pattern string, content []byte, perm os.FileMode) (m.Path, error)

	// Rename moves oldPath over newPath.
	Rename(oldPath, newPath m.Path) error

	// Remove deletes a file.
	Remove(path m.Path) error

	// WriteFile writes content to a file with the given permissions.
	WriteFile(path m.Path, content []byte, perm os.FileMode) error

	// CheckWritable verifies that new files can be created in dir.
	CheckWritable(dir m.Path) error

	// JoinPath joins path elements into a single path.
	JoinPath(elem ...string) m.Path
}

// LocalBinaryFSAdapter implements BinaryFSAdapter on the local filesystem.
type LocalBinaryFSAdapter struct{}

// NewLocalBinaryFSAdapter constructs a LocalBinaryFSAdapter.
func NewLocalBinaryFSAdapter() *LocalBinaryFSAdapter {
	return &LocalBinaryFSAdapter{}
}

// ReadFile loads file contents from disk.
func (a *LocalBinaryFSAdapter) ReadFile(path m.Path) ([]byte, error) {
	return os.ReadFile(string(path))
}

// FileInfo returns os.FileInfo metadata for the given path.
func (a *LocalBinaryFSAdapter) FileInfo(path m.Path) (os.FileInfo, error) {
	return os.Stat(string(path))
}

// CopyFile copies src to dst and keeps the source permissions.
func (a *LocalBinaryFSAdapter) CopyFile(src, dst m.Path) error {
	// #nosec G304 - src is a configured target path
	sourceFile, err := os.Open(string(src))
	if err != nil {
		return err
	}

	defer func() { _ = sourceFile.Close() }()

	info, err := sourceFile.Stat()
	if err != nil {
		return err
	}

	// #nosec G304 - dst is derived from a configured target path
	destFile, err := os.OpenFile(string(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		_ = destFile.Close()
		return err
	}

	return destFile.Close()
}

// WriteTemp creates a temporary file next to the final destination so that the
// later rename stays on one volume. The file is removed again if writing fails.
func (a *LocalBinaryFSAdapter) WriteTemp(dir m.Path, pattern string, content []byte, perm os.FileMode) (m.Path, error) {
	f, err := os.CreateTemp(string(dir), pattern)
	if err != nil {
		return "", err
	}

	name := f.Name()

	writeErr := f.Chmod(perm)
	if writeErr == nil {
		_, writeErr = f.Write(content)
	}

	if writeErr == nil {
		writeErr = f.Sync()
	}

	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(name)
		return "", err
	}

	return m.Path(name), nil
}

// Rename moves oldPath over newPath.
func (a *LocalBinaryFSAdapter) Rename(oldPath, newPath m.Path) error {
	return os.Rename(string(oldPath), string(newPath))
}

// Remove deletes a file.
func (a *LocalBinaryFSAdapter) Remove(path m.Path) error {
	return os.Remove(string(path))
}

// WriteFile writes content to a file with the given permissions.
func (a *LocalBinaryFSAdapter) WriteFile(path m.Path, content []byte, perm os.FileMode) error {
	return os.WriteFile(string(path), content, perm)
}

// CheckWritable creates and deletes a probe file in dir.
func (a *LocalBinaryFSAdapter) CheckWritable(dir m.Path) error {
	info, err := os.Stat(string(dir))
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	f, err := os.CreateTemp(string(dir), ".ilpatch-probe-*")
	if err != nil {
		return err
	}

	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}

// JoinPath joins path elements into a single path.
func (a *LocalBinaryFSAdapter) JoinPath(elem ...string) m.Path {
	return m.Path(filepath.Join(elem...))
}
