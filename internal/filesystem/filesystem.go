package filesystem

import (
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"hermeshub/internal/config"
	"hermeshub/internal/errors"
	"hermeshub/internal/logging"
	"hermeshub/internal/protocol"

	"go.uber.org/zap"
)

// Store is a flat directory of files addressed by bare name. The directory
// itself is the only record of what is stored.
type Store struct {
	root string
}

// NewStore opens root as a store, creating it if needed
func NewStore(root string) (*Store, error) {
	if err := EnsureDirectoryExists(root); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Root returns the store directory
func (s *Store) Root() string {
	return s.root
}

// ValidateName checks that name addresses a single entry directly inside the store
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.NewValidationError("name", name, "name is empty")
	case name == "." || name == "..":
		return errors.NewValidationError("name", name, "name is a directory reference")
	case strings.ContainsAny(name, "/\\"):
		return errors.NewValidationError("name", name, "name contains a path separator")
	case strings.ContainsRune(name, 0):
		return errors.NewValidationError("name", name, "name contains a NUL byte")
	case strings.ContainsAny(name, "\r\n"):
		return errors.NewValidationError("name", name, "name contains a line break")
	}
	return nil
}

func (s *Store) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// Reserve atomically creates an empty file for name. If the name is taken the
// error matches errors.ErrAlreadyExists and nothing is modified.
func (s *Store) Reserve(name string) (*os.File, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, config.DataFilePerms)
	if err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return nil, errors.NewAlreadyExistsError(name)
		}
		return nil, errors.NewFileSystemError("reserve", path, err)
	}
	return file, nil
}

// Discard removes a reservation that was never completed
func (s *Store) Discard(name string, file *os.File) {
	if file != nil {
		file.Close()
	}
	if _, err := s.Remove(name); err != nil {
		logging.L().Warn("Failed to discard reservation", zap.String("name", name), zap.Error(err))
	}
}

// Size returns the size of name and whether it exists as a regular file
func (s *Store) Size(name string) (int64, bool, error) {
	path, err := s.path(name)
	if err != nil {
		return 0, false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, errors.NewFileSystemError("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

// WriteRange copies exactly n bytes from src into name starting at offset.
// The file must already exist; each call uses its own handle so concurrent
// writers of disjoint ranges never share a file position.
func (s *Store) WriteRange(name string, offset, n int64, src io.Reader) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.NewNotFoundError(name)
		}
		return errors.NewFileSystemError("open", path, err)
	}

	if err := protocol.CopyExact(io.NewOffsetWriter(file, offset), src, n); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.NewFileSystemError("close", path, err)
	}
	return nil
}

// ReadRange copies exactly n bytes of name starting at offset into dst
func (s *Store) ReadRange(name string, offset, n int64, dst io.Writer) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.NewNotFoundError(name)
		}
		return errors.NewFileSystemError("open", path, err)
	}
	defer file.Close()

	return protocol.CopyExact(dst, io.NewSectionReader(file, offset, n), n)
}

// List describes every regular file in the store, ordered by name
func (s *Store) List() ([]protocol.FileRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.NewFileSystemError("readdir", s.root, err)
	}

	records := make([]protocol.FileRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			// Removed since ReadDir
			if stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, errors.NewFileSystemError("stat", path, err)
		}
		records = append(records, protocol.FileRecord{
			Name:      entry.Name(),
			CreatedAt: creationTime(path, info),
			Size:      uint64(info.Size()),
		})
	}
	return records, nil
}

// Remove deletes name. It reports false without error when name is absent.
func (s *Store) Remove(name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, err
	}

	if err := os.Remove(path); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errors.NewFileSystemError("remove", path, err)
	}
	return true, nil
}

// PreallocateFile sizes file to exactly size bytes. Growing leaves a zero-filled
// hole, and a size of zero is allowed.
func PreallocateFile(file *os.File, size int64) error {
	if size < 0 {
		return errors.NewValidationError("size", size, "must not be negative")
	}

	if err := file.Truncate(size); err != nil {
		return errors.NewFileSystemError("truncate", file.Name(), err)
	}

	// Reset file position
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return errors.NewFileSystemError("seek", file.Name(), err)
	}

	return nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if dir == "" {
		return errors.NewValidationError("directory", dir, "directory is empty")
	}

	if err := os.MkdirAll(dir, config.StorageDirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}

	return nil
}
