// Package vfs provides the filesystem seam used by the store.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the store performs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using the [os] package
//   - [Flaky]: testing implementation that fails chosen operations
//     deterministically
//
// Example usage:
//
//	fs := vfs.NewReal()
//	data, err := fs.ReadFile("pokemon.json")
//	if err != nil {
//	    return err
//	}
package vfs

import (
	"io"
	"os"
)

// File represents an open file descriptor.
//
// The interface is satisfied by [os.File] and works with standard library
// functions that accept [io.Reader], [io.Writer], or [io.Closer].
type File interface {
	io.ReadWriteCloser

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error
}

// FS defines the filesystem operations the store performs.
//
// Two implementations are provided:
//   - [Real]: production use, wraps the [os] package
//   - [Flaky]: testing use, injects deterministic failures
type FS interface {
	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically.
	// Uses a temp file + rename so a crash never leaves a partial write.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// OpenFile opens a file with specified flags and permissions.
	// See [os.OpenFile]. Used for exclusive sentinel creation
	// (os.O_CREATE|os.O_EXCL).
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadDir reads a directory and returns its entries sorted by name.
	// See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves/renames a file. Atomic on the same filesystem.
	// See [os.Rename].
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
