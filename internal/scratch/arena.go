// Package scratch manages request-scoped temporary files.
//
// Every file created through an Arena is removed when the arena is
// released, so callers defer Release once and never clean up per branch.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is one temporary file owned by an Arena.
type File struct {
	path  string
	arena *Arena
}

// Path returns the absolute location of the file.
func (f *File) Path() string { return f.path }

// Name returns the base name of the file.
func (f *File) Name() string { return filepath.Base(f.path) }

// ReadAll returns the complete contents of the file.
func (f *File) ReadAll() ([]byte, error) {
	return os.ReadFile(f.path)
}

// Release removes the file ahead of its arena.
func (f *File) Release() {
	f.arena.remove(f)
}

// Arena owns a set of temporary files.
type Arena struct {
	dir string

	mu       sync.Mutex
	files    []*File
	released bool
}

// NewArena returns an arena creating files in dir, or in the system
// temporary directory when dir is empty.
func NewArena(dir string) *Arena {
	return &Arena{dir: dir}
}

// Create makes a new empty file named prefix*suffix. The returned handle is
// closed; write through WriteFile or open the path.
func (a *Arena) Create(prefix, suffix string) (*File, error) {
	fd, err := a.open(prefix, suffix)
	if err != nil {
		return nil, err
	}
	if err := fd.Close(); err != nil {
		return nil, err
	}
	return a.track(fd.Name())
}

// Open makes a new file like Create but returns it open for writing. The
// caller closes the *os.File; the arena still removes it on Release.
func (a *Arena) Open(prefix, suffix string) (*File, *os.File, error) {
	fd, err := a.open(prefix, suffix)
	if err != nil {
		return nil, nil, err
	}
	f, err := a.track(fd.Name())
	if err != nil {
		_ = fd.Close()
		return nil, nil, err
	}
	return f, fd, nil
}

// WriteFile creates a new file and fills it with data.
func (a *Arena) WriteFile(prefix, suffix string, data []byte) (*File, error) {
	f, fd, err := a.Open(prefix, suffix)
	if err != nil {
		return nil, err
	}
	if _, err := fd.Write(data); err != nil {
		_ = fd.Close()
		return nil, err
	}
	if err := fd.Close(); err != nil {
		return nil, err
	}
	return f, nil
}

func (a *Arena) open(prefix, suffix string) (*os.File, error) {
	fd, err := os.CreateTemp(a.dir, prefix+"*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return fd, nil
}

func (a *Arena) track(path string) (*File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		_ = os.Remove(path)
		return nil, fmt.Errorf("arena already released")
	}
	f := &File{path: path, arena: a}
	a.files = append(a.files, f)
	return f, nil
}

func (a *Arena) remove(target *File) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, f := range a.files {
		if f == target {
			a.files = append(a.files[:i], a.files[i+1:]...)
			_ = os.Remove(f.path)
			return
		}
	}
}

// Len returns the number of files still owned by the arena.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}

// Release removes every file still owned by the arena. It is safe to call
// more than once.
func (a *Arena) Release() {
	a.mu.Lock()
	files := a.files
	a.files = nil
	a.released = true
	a.mu.Unlock()

	for _, f := range files {
		_ = os.Remove(f.path)
	}
}
