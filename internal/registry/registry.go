// Package registry records which process serves a supervised service.
//
// Entries are advisory: callers confirm them through a health probe or the
// port locator before acting on them.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Entry is the last known pid and port of a service. PID is 0 when unknown.
type Entry struct {
	PID  int
	Port int
}

// Registry persists one Entry per service.
type Registry interface {
	Save(pid, port int) error
	Load() Entry
	Clear() error
}

// FileRegistry stores an entry as two text files, <name>.pid and <name>.port.
type FileRegistry struct {
	dir         string
	name        string
	defaultPort int
}

// NewFileRegistry returns a registry for service name rooted at dir.
func NewFileRegistry(dir, name string, defaultPort int) *FileRegistry {
	return &FileRegistry{dir: dir, name: name, defaultPort: defaultPort}
}

// Name returns the service name.
func (r *FileRegistry) Name() string {
	return r.name
}

// PIDPath returns the pid file location.
func (r *FileRegistry) PIDPath() string {
	return filepath.Join(r.dir, r.name+".pid")
}

// PortPath returns the port file location.
func (r *FileRegistry) PortPath() string {
	return filepath.Join(r.dir, r.name+".port")
}

// Save overwrites both files. The port is written first so a reader that
// sees the new pid also sees the new port.
func (r *FileRegistry) Save(pid, port int) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := writeAtomic(r.PortPath(), strconv.Itoa(port)); err != nil {
		return err
	}
	return writeAtomic(r.PIDPath(), strconv.Itoa(pid))
}

// Load returns the stored entry. Missing or unreadable files are reported as
// PID 0 and the default port.
func (r *FileRegistry) Load() Entry {
	entry := Entry{Port: r.defaultPort}
	if pid, ok := readInt(r.PIDPath()); ok {
		entry.PID = pid
	}
	if port, ok := readInt(r.PortPath()); ok {
		entry.Port = port
	}
	return entry
}

// Clear removes both files. Files that do not exist are ignored.
func (r *FileRegistry) Clear() error {
	var errs []error
	for _, path := range []string{r.PIDPath(), r.PortPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeAtomic(path, value string) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(value+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readInt(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
