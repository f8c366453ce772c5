package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalidPath is returned for paths that would leave the storage root.
var ErrInvalidPath = errors.New("invalid storage path")

// Object is an opened file suitable for http.ServeContent.
type Object interface {
	io.ReadSeekCloser
	Name() string
	ModTime() time.Time
	Size() int64
}

// Storage interface for session output directories. Paths are relative to
// the storage root and use forward slashes.
type Storage interface {
	// EnsureDir creates a directory and its parents
	EnsureDir(dir string) error

	// Open opens a file for range reads
	Open(path string) (Object, error)

	// Delete deletes a file. Missing files are not an error.
	Delete(path string) error

	// Exists checks if a regular file exists
	Exists(path string) (bool, error)

	// List lists files in a directory
	List(dir string) ([]string, error)

	// FullPath returns the filesystem path handed to child processes
	FullPath(path string) (string, error)
}

// LocalStorage implements Storage using local filesystem
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		baseDir: abs,
	}, nil
}

// BaseDir returns the absolute storage root.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

func (s *LocalStorage) resolve(path string) (string, error) {
	clean := filepath.FromSlash(path)
	if clean == "" || clean == "." {
		return s.baseDir, nil
	}
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// FullPath returns the full filesystem path for a relative path
func (s *LocalStorage) FullPath(path string) (string, error) {
	return s.resolve(path)
}

// EnsureDir creates a directory under the base directory
func (s *LocalStorage) EnsureDir(dir string) error {
	fullPath, err := s.resolve(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Open opens a regular file
func (s *LocalStorage) Open(path string) (Object, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, fmt.Errorf("failed to open file: %w", fs.ErrNotExist)
	}

	return &localObject{File: file, info: info}, nil
}

type localObject struct {
	*os.File
	info fs.FileInfo
}

func (o *localObject) Name() string       { return o.info.Name() }
func (o *localObject) ModTime() time.Time { return o.info.ModTime() }
func (o *localObject) Size() int64        { return o.info.Size() }

// Delete deletes a file
func (s *LocalStorage) Delete(path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(path string) (bool, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return info.Mode().IsRegular(), nil
}

// List lists files in a directory. A missing directory lists as empty.
func (s *LocalStorage) List(dir string) ([]string, error) {
	fullPath, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}
