package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Identifier is implemented by handles that expose the id of the record they
// stand for.
type Identifier interface {
	RecordID() int
}

// BlankFunc builds the default shape of a record for a freshly allocated id.
type BlankFunc func(id int) Value

type IdentityOptions struct {
	Options
	// Floor is the smallest id the space hands out.
	Floor int
	// IDField names the member that carries the id inside a record.
	IDField string
	Blank   BlankFunc
}

// IdentityStore is a Store whose top-level keys are integers allocated from
// a floor. Spaces with different floors never need cross-space checks.
type IdentityStore struct {
	*Store
	floor   int
	idField string
	blank   BlankFunc
}

func NewIdentityStore(opts IdentityOptions) (*IdentityStore, error) {
	base, err := New(opts.Options)
	if err != nil {
		return nil, err
	}
	return wrapIdentity(base, opts), nil
}

// NewMemoryIdentityStore builds an unpersisted space, used for clipboard and
// import quarantine.
func NewMemoryIdentityStore(name string, floor int, idField string, blank BlankFunc) *IdentityStore {
	return wrapIdentity(NewMemory(name), IdentityOptions{Floor: floor, IDField: idField, Blank: blank})
}

func wrapIdentity(base *Store, opts IdentityOptions) *IdentityStore {
	floor := opts.Floor
	if floor < 1 {
		floor = 1
	}
	idField := strings.TrimSpace(opts.IDField)
	if idField == "" {
		idField = "id"
	}
	return &IdentityStore{Store: base, floor: floor, idField: idField, blank: opts.Blank}
}

func (s *IdentityStore) Floor() int { return s.floor }
func (s *IdentityStore) IDField() string { return s.idField }

// HighWater is the largest integer key in use, or floor-1 when empty.
func (s *IdentityStore) HighWater() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	high := s.floor - 1
	for key := range s.records {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if id > high {
			high = id
		}
	}
	return high
}

// NextID is recomputed from the live keys on every call so removals and
// imports made through any path are reflected.
func (s *IdentityStore) NextID() int {
	return s.HighWater() + 1
}

// Blank returns a default record carrying NextID. It is not inserted.
func (s *IdentityStore) Blank() Value {
	id := s.NextID()
	record := NewObject()
	if s.blank != nil {
		record = s.blank(id)
		if !record.IsObject() {
			record = NewObject()
		}
	}
	return record.With(s.idField, Int(id))
}

// Record returns the stored record for an id, or Absent.
func (s *IdentityStore) Record(id int) Value {
	return s.Get(Path{Key(id)})
}

// Put stores a whole record under its id.
func (s *IdentityStore) Put(id int, record Value) error {
	return s.Set(Path{Key(id)}, record)
}

// IDs lists integer keys in ascending order.
func (s *IdentityStore) IDs(conditions ...Condition) ([]int, error) {
	keys, err := s.Keys(conditions...)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(keys))
	for _, key := range keys {
		if id, err := strconv.Atoi(key); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// CoerceID normalizes numbers, numeric strings, records exposing the id
// field and Identifier handles to an integer id.
func (s *IdentityStore) CoerceID(input any) (int, error) {
	switch typed := input.(type) {
	case int:
		return typed, nil
	case int64:
		return int(typed), nil
	case int32:
		return int(typed), nil
	case float64:
		return integral(typed, input)
	case float32:
		return integral(float64(typed), input)
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, typed.String())
		}
		return integral(f, input)
	case string:
		trimmed := strings.TrimSpace(typed)
		if id, err := strconv.Atoi(trimmed); err == nil {
			return id, nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, typed)
		}
		return integral(f, input)
	case Identifier:
		return typed.RecordID(), nil
	case Value:
		switch typed.Kind() {
		case KindNumber:
			return integral(typed.num, input)
		case KindString:
			return s.CoerceID(typed.str)
		case KindObject:
			for _, field := range []string{s.idField, "id"} {
				if member := typed.Field(field); !member.IsAbsent() && !member.IsObject() {
					return s.CoerceID(member)
				}
			}
		}
	case map[string]any:
		for _, field := range []string{s.idField, "id"} {
			if member, ok := typed[field]; ok {
				if _, nested := member.(map[string]any); !nested {
					return s.CoerceID(member)
				}
			}
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrInvalidIdentifier, input)
}

func integral(f float64, input any) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidIdentifier, input)
	}
	// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive.
	if f < float64(math.MinInt) || f >= -float64(math.MinInt) {
		return 0, fmt.Errorf("%w: %v out of range", ErrInvalidIdentifier, input)
	}
	return int(f), nil
}

// Remove coerces every input to an id before deleting the records.
func (s *IdentityStore) Remove(inputs ...any) error {
	keys := make([]string, 0, len(inputs))
	for _, input := range inputs {
		id, err := s.CoerceID(input)
		if err != nil {
			return err
		}
		keys = append(keys, Key(id))
	}
	return s.Store.Remove(keys...)
}
