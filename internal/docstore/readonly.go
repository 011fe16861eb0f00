package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// ReadOnlyStore wraps a Store and refuses every mutation. Reads pass through
// to the wrapped store. Rejected writes are logged and return ErrReadOnly so
// callers can treat them as no-ops.
type ReadOnlyStore struct {
	base *Store
	log  zerolog.Logger
}

func NewReadOnly(store *Store, logger zerolog.Logger) *ReadOnlyStore {
	return &ReadOnlyStore{
		base: store,
		log:  logger.With().Str("store", store.Name()).Logger(),
	}
}

// LoadReadOnly builds a read-only store from a JSON object of records.
func LoadReadOnly(name string, document []byte, logger zerolog.Logger) (*ReadOnlyStore, error) {
	var records map[string]Value
	if err := json.Unmarshal(document, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	base := NewMemory(name)
	if records != nil {
		base.records = records
	}
	return NewReadOnly(base, logger), nil
}

func (r *ReadOnlyStore) Get(path Path) Value {
	return r.base.Get(path)
}

func (r *ReadOnlyStore) GetClone(path Path) Value {
	return r.base.GetClone(path)
}

func (r *ReadOnlyStore) Has(path Path) bool {
	return r.base.Has(path)
}

func (r *ReadOnlyStore) Len() int {
	return r.base.Len()
}

func (r *ReadOnlyStore) reject(op string, target fmt.Stringer) error {
	r.log.Warn().Str("op", op).Stringer("path", target).Msg("mutation refused on read-only store")
	return fmt.Errorf("%w: %s %s", ErrReadOnly, op, target)
}

func (r *ReadOnlyStore) Set(path Path, _ Value) error {
	return r.reject("set", path)
}

func (r *ReadOnlyStore) Unset(path Path) error {
	return r.reject("unset", path)
}

func (r *ReadOnlyStore) Remove(keys ...string) error {
	return r.reject("remove", Path(keys))
}

func (r *ReadOnlyStore) Flush() error {
	return r.reject("flush", Path{})
}
