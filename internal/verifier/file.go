package verifier

import (
	"os"
	"path/filepath"
	"runtime"

	"quantumlic/internal/files"
)

// FileStore owns the on-disk license document. Saves are atomic so a crash
// mid-write can never corrupt an existing license.
type FileStore struct {
	path string
}

// NewFileStore binds a store to a license file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the bound license file path.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether a license file is present.
func (s *FileStore) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Read returns the raw license bytes.
func (s *FileStore) Read() ([]byte, error) {
	return os.ReadFile(s.path)
}

// Save writes the license document exactly as received from the issuance
// service. The bytes must not be reformatted: the signature covers them.
func (s *FileStore) Save(raw []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		// Best effort: the dir may predate us with wider permissions.
		_ = os.Chmod(dir, 0o700)
	}
	return files.WriteAtomic(s.path, raw, 0o600)
}
