package docstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Slot is a durable key-value location holding one serialized store per
// name. Load returns nil data when the slot has never been written.
type Slot interface {
	Load(name string) ([]byte, error)
	Save(name string, data []byte) error
}

type slotCloser interface {
	Close() error
}

// CloseSlot releases resources held by slots that own connections.
func CloseSlot(slot Slot) error {
	if closer, ok := slot.(slotCloser); ok {
		return closer.Close()
	}
	return nil
}

var slotNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validSlotName(name string) error {
	if !slotNamePattern.MatchString(name) {
		return fmt.Errorf("%w: slot name %q", ErrInvalidInput, name)
	}
	return nil
}

// FileSlot keeps each named store in <Dir>/<name>.json. Writes go through a
// temp file and rename under an advisory lock.
type FileSlot struct {
	Dir string
}

func NewFileSlot(dir string) *FileSlot {
	return &FileSlot{Dir: strings.TrimSpace(dir)}
}

func (f *FileSlot) path(name string) string {
	return filepath.Join(f.Dir, name+".json")
}

func (f *FileSlot) Load(name string) ([]byte, error) {
	if err := validSlotName(name); err != nil {
		return nil, err
	}
	unlock, err := f.lock(name, false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	data, err := os.ReadFile(f.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (f *FileSlot) Save(name string, data []byte) error {
	if err := validSlotName(name); err != nil {
		return err
	}
	unlock, err := f.lock(name, true)
	if err != nil {
		return err
	}
	defer unlock()
	target := f.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (f *FileSlot) lock(name string, exclusive bool) (func(), error) {
	dir := f.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lockFile, err := os.OpenFile(filepath.Join(dir, "."+name+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockFD(lockFile, exclusive); err != nil {
		_ = lockFile.Close()
		return nil, err
	}
	return func() {
		_ = unlockFD(lockFile)
		_ = lockFile.Close()
	}, nil
}

// InMemorySlot is a process-local slot, used for the memory profile and tests.
type InMemorySlot struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func NewInMemorySlot() *InMemorySlot {
	return &InMemorySlot{blobs: map[string][]byte{}}
}

func (m *InMemorySlot) Load(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *InMemorySlot) Save(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Saves counts completed writes across all names.
func (m *InMemorySlot) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
