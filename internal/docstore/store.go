package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidPath       = errors.New("invalid path")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnknownComparator = errors.New("unknown comparator")
	ErrReadOnly          = errors.New("read-only store")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotImplemented    = errors.New("not implemented")
)

// Options configures a Store. A store without a Slot lives in memory only.
type Options struct {
	Name   string
	Slot   Slot
	Logger zerolog.Logger
}

// Store is a path-addressed document store. Every mutation is written through
// to the configured slot before the call returns.
type Store struct {
	mu      sync.RWMutex
	name    string
	records map[string]Value
	slot    Slot
	log     zerolog.Logger
}

// Entry is one top-level record returned by a query.
type Entry struct {
	Key   string
	Value Value
}

// New builds a store and loads its slot once.
func New(opts Options) (*Store, error) {
	s := &Store{
		name:    strings.TrimSpace(opts.Name),
		records: map[string]Value{},
		slot:    opts.Slot,
		log:     opts.Logger.With().Str("store", opts.Name).Logger(),
	}
	if s.slot != nil && s.name == "" {
		return nil, fmt.Errorf("%w: persistent store requires a slot name", ErrInvalidInput)
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.name, err)
	}
	return s, nil
}

// NewMemory builds an unpersisted store.
func NewMemory(name string) *Store {
	return &Store{name: name, records: map[string]Value{}, log: zerolog.Nop()}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Set writes value at path, creating intermediate objects. Writing through an
// existing non-object segment fails with ErrTypeMismatch.
func (s *Store) Set(path Path, value Value) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if value.IsAbsent() {
		return s.Unset(path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every existing ancestor before creating anything.
	node, ok := s.records[path[0]]
	for depth := 1; depth < len(path) && ok; depth++ {
		if node.kind != KindObject {
			return fmt.Errorf("%w: %s is %s, not an object", ErrTypeMismatch, path[:depth], node.kind)
		}
		node, ok = node.obj[path[depth]]
	}

	if len(path) == 1 {
		s.records[path[0]] = value.Clone()
		return s.saveLocked()
	}
	root, exists := s.records[path[0]]
	if !exists {
		root = NewObject()
		s.records[path[0]] = root
	}
	parent := root
	for _, segment := range path[1 : len(path)-1] {
		child, exists := parent.obj[segment]
		if !exists {
			child = NewObject()
			parent.obj[segment] = child
		}
		parent = child
	}
	parent.obj[path[len(path)-1]] = value.Clone()
	return s.saveLocked()
}

// Unset deletes the leaf at path when present.
func (s *Store) Unset(path Path) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(path) == 1 {
		delete(s.records, path[0])
		return s.saveLocked()
	}
	parent := s.lookupLocked(path[:len(path)-1])
	if parent.kind == KindObject {
		delete(parent.obj, path[len(path)-1])
	}
	return s.saveLocked()
}

// Get returns the stored value or Absent. The result shares structure with
// the store; callers that mutate it must use GetClone instead.
func (s *Store) Get(path Path) Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(path)
}

func (s *Store) GetClone(path Path) Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(path).Clone()
}

func (s *Store) Has(path Path) bool {
	return !s.Get(path).IsAbsent()
}

// Remove deletes the listed top-level records and persists once.
func (s *Store) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.records, key)
	}
	return s.saveLocked()
}

// Flush clears every record.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]Value{}
	return s.saveLocked()
}

// Serialize exports the whole store as a JSON object keyed by record key.
func (s *Store) Serialize(pretty bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serializeLocked(pretty)
}

// AllKeys lists top-level keys in numeric-aware order.
func (s *Store) AllKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedKeysLocked()
}

func (s *Store) lookupLocked(path Path) Value {
	if len(path) == 0 {
		return Absent
	}
	node, ok := s.records[path[0]]
	if !ok {
		return Absent
	}
	for _, segment := range path[1:] {
		if node.kind != KindObject {
			return Absent
		}
		node, ok = node.obj[segment]
		if !ok {
			return Absent
		}
	}
	return node
}

func (s *Store) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return compareKeys(keys[i], keys[j]) })
	return keys
}

func (s *Store) serializeLocked(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(s.records, "", "  ")
	}
	return json.Marshal(s.records)
}

func (s *Store) load() error {
	if s.slot == nil {
		return nil
	}
	data, err := s.slot.Load(s.name)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var records map[string]Value
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	if records != nil {
		s.records = records
	}
	return nil
}

func (s *Store) saveLocked() error {
	if s.slot == nil {
		return nil
	}
	data, err := s.serializeLocked(false)
	if err != nil {
		return err
	}
	if err := s.slot.Save(s.name, data); err != nil {
		s.log.Error().Err(err).Msg("write-through to slot failed")
		return fmt.Errorf("persist %s: %w", s.name, err)
	}
	return nil
}
