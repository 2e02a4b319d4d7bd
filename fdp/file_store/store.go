package file_store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

// One entry of the server catalog.
type FileRecord struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type Store struct {
	dir string
	mu  sync.RWMutex
}

// creates a new instance of the file store rooted at dir. The directory itself
// is only created once something is written to it.
func InitializeStore(dir string) *Store {

	return &Store{
		dir: dir,
	}
}

func (fs *Store) Dir() string {
	return fs.dir
}

// Files are addressed by base name only.
func ValidName(name string) bool {

	if name == "" || name == "." || name == ".." {
		return false
	}

	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}

	return filepath.Base(name) == name
}

func (fs *Store) path(name string) (string, error) {

	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return filepath.Join(fs.dir, name), nil
}

// Lists the regular files in the storage directory, ordered by name. A missing
// directory is an empty catalog.
func (fs *Store) List() ([]FileRecord, error) {

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	records := []FileRecord{}

	entries, err := os.ReadDir(fs.dir)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	} else if err != nil {
		return nil, err
	}

	for _, entry := range entries {

		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}

		records = append(records, FileRecord{
			FileName: entry.Name(),
			FileSize: info.Size(),
		})
	}

	return records, nil
}

// Create opens name for writing, truncating any existing file of that name.
func (fs *Store) Create(name string) (*os.File, error) {

	path, err := fs.path(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.dir, 0755); err != nil {
		return nil, err
	}

	return os.Create(path)
}

// Open returns the file and its size.
func (fs *Store) Open(name string) (*os.File, int64, error) {

	path, err := fs.path(name)
	if err != nil {
		return nil, 0, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %v", ErrNotFound, name)
	} else if err != nil {
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %v", ErrNotFound, name)
	}

	return f, info.Size(), nil
}

// Remove deletes name. It reports false, with no error, if there was nothing
// to delete.
func (fs *Store) Remove(name string) (bool, error) {

	path, err := fs.path(name)
	if err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	if err := os.Remove(path); err != nil {
		return false, err
	}

	return true, nil
}
