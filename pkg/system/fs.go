package system

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSystem is the local file system.
type FileSystem struct{}

// NewFileSystem returns the local file system.
func NewFileSystem() *FileSystem {
	return &FileSystem{}
}

// ReadFile returns the content of path.
func (FileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to path, creating parent directories, then sets the
// permissions to exactly mode regardless of umask or prior permissions.
func (FileSystem) WriteFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// SetExecutable adds owner read and execute permission to path.
func (FileSystem) SetExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode()|0o500)
}

// Exists reports whether path exists.
func (FileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Stat returns the permission bits of path, including setuid, setgid and sticky.
func (FileSystem) Stat(path string) (os.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky), nil
}
