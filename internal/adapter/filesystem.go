package adapter

import (
	"io"
	"os"
)

// FileSystem defines an interface for file system operations to enable mocking
type FileSystem interface {
	// Create creates or truncates the named file
	Create(name string) (File, error)

	// Open opens the named file for reading
	Open(name string) (File, error)

	// OpenFile opens the named file with the given flag and permissions
	OpenFile(name string, flag int, perm os.FileMode) (File, error)

	// Remove removes the named file or directory
	Remove(name string) error

	// RemoveAll removes the named path and any children it contains
	RemoveAll(path string) error

	// ReadDir reads the named directory and returns its entries sorted by name
	ReadDir(name string) ([]os.DirEntry, error)

	// Rename renames (moves) oldpath to newpath
	Rename(oldpath, newpath string) error

	// MkdirAll creates the named directory and any missing parents
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns the FileInfo describing the named file
	Stat(name string) (os.FileInfo, error)

	// TempDir returns the default directory to use for temporary files
	TempDir() string
}

// File defines an interface for file operations
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Name returns the path the file was opened with
	Name() string

	// Sync flushes the file to stable storage
	Sync() error
}

// RealFileSystem implements FileSystem using the standard os package
type RealFileSystem struct{}

// NewFileSystem creates a new real file system
func NewFileSystem() FileSystem {
	return &RealFileSystem{}
}

// Create creates or truncates the named file
func (fs *RealFileSystem) Create(name string) (File, error) {
	return os.Create(name) //nolint:gosec,G304
}

// Open opens the named file for reading
func (fs *RealFileSystem) Open(name string) (File, error) {
	return os.Open(name) //nolint:gosec,G304
}

// OpenFile opens the named file with the given flag and permissions
func (fs *RealFileSystem) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm) //nolint:gosec,G304
}

// Remove removes the named file or directory
func (fs *RealFileSystem) Remove(name string) error {
	return os.Remove(name)
}

// RemoveAll removes the named path and any children it contains
func (fs *RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// ReadDir reads the named directory and returns its entries sorted by name
func (fs *RealFileSystem) ReadDir(name string) ([]os.DirEntry, error) {
	return os.ReadDir(name)
}

// Rename renames (moves) oldpath to newpath
func (fs *RealFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// MkdirAll creates the named directory and any missing parents
func (fs *RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Stat returns the FileInfo describing the named file
func (fs *RealFileSystem) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

// TempDir returns the default directory to use for temporary files
func (fs *RealFileSystem) TempDir() string {
	return os.TempDir()
}
