package docstore

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// SlotFactory builds a slot from a DSN whose scheme it was registered for.
type SlotFactory func(dsn string) (Slot, error)

var slotFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]SlotFactory
}{
	factories: map[string]SlotFactory{},
}

// RegisterSlotFactory overrides or extends the schemes BuildSlotFromDSN knows.
func RegisterSlotFactory(scheme string, factory SlotFactory) {
	scheme = normalizeSlotScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	slotFactoryRegistry.mu.Lock()
	defer slotFactoryRegistry.mu.Unlock()
	slotFactoryRegistry.factories[scheme] = factory
}

func lookupSlotFactory(scheme string) (SlotFactory, bool) {
	scheme = normalizeSlotScheme(scheme)
	slotFactoryRegistry.mu.RLock()
	defer slotFactoryRegistry.mu.RUnlock()
	factory, ok := slotFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeSlotScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildSlotFromDSN maps a DSN to a slot: a bare path or file:// is a
// directory of JSON files, memory:// stays in process, postgres:// and
// redis:// use those servers. An empty DSN means no persistence.
func BuildSlotFromDSN(dsn string) (Slot, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeSlotScheme(parsed.Scheme)
	if factory, ok := lookupSlotFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSlot(path), nil
	case "memory", "mem", "inmem":
		return NewInMemorySlot(), nil
	case "postgres", "postgresql":
		return NewPostgresSlot(dsn)
	case "redis", "rediss":
		slot, err := NewRedisSlot(dsn)
		if err != nil {
			return nil, err
		}
		return slot, nil
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: slot backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported slot scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
