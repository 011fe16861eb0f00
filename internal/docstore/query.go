package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Comparator reports whether actual satisfies a condition against expected.
type Comparator func(actual, expected Value) bool

// Condition is one clause of a query. Conditions passed together are ANDed.
type Condition struct {
	Path     Path
	Op       string
	Compare  Comparator
	Expected Value
	err      error
}

// Where builds a condition. op is either a comparator name ("===", "!=", ">",
// "typeof", "has", "match", ...) or a Comparator. expected is converted with
// FromAny; conversion errors surface when the query runs.
func Where(subPath string, op any, expected any) Condition {
	cond := Condition{Path: ParsePath(subPath)}
	switch typed := op.(type) {
	case string:
		cond.Op = strings.TrimSpace(typed)
	case Comparator:
		cond.Compare = typed
	case func(actual, expected Value) bool:
		cond.Compare = typed
	default:
		cond.err = fmt.Errorf("%w: %T", ErrUnknownComparator, op)
	}
	value, err := FromAny(expected)
	if err != nil && cond.err == nil {
		cond.err = err
	}
	cond.Expected = value
	return cond
}

type predicate func(actual Value) bool

func (c Condition) predicate() (predicate, error) {
	if c.err != nil {
		return nil, c.err
	}
	expected := c.Expected
	if c.Compare != nil {
		compare := c.Compare
		return func(actual Value) bool { return compare(actual, expected) }, nil
	}
	switch c.Op {
	case "===", "eq":
		return func(actual Value) bool { return actual.Equal(expected) }, nil
	case "!==", "ne":
		return func(actual Value) bool { return !actual.Equal(expected) }, nil
	case "==":
		return func(actual Value) bool { return looseEqual(actual, expected) }, nil
	case "!=":
		return func(actual Value) bool { return !looseEqual(actual, expected) }, nil
	case ">", "gt":
		return func(actual Value) bool { return order(actual, expected) > 0 }, nil
	case ">=", "gte":
		return func(actual Value) bool { cmp := order(actual, expected); return cmp >= 0 && cmp != unordered }, nil
	case "<", "lt":
		return func(actual Value) bool { cmp := order(actual, expected); return cmp < 0 && cmp != unordered }, nil
	case "<=", "lte":
		return func(actual Value) bool { cmp := order(actual, expected); return cmp <= 0 && cmp != unordered }, nil
	case "typeof":
		name := strings.ToLower(expected.Text())
		return func(actual Value) bool { return actual.Kind().TypeName() == name }, nil
	case "has", "instanceof":
		field := expected.Text()
		return func(actual Value) bool { return !actual.Field(field).IsAbsent() }, nil
	case "match", "~":
		pattern, err := regexp.Compile(expected.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidInput, expected.Text(), err)
		}
		return func(actual Value) bool {
			switch actual.Kind() {
			case KindString, KindNumber, KindBool:
				return pattern.MatchString(actual.Text())
			default:
				return false
			}
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownComparator, c.Op)
	}
}

const unordered = -2

// order returns -1, 0 or 1 for comparable numbers or strings, and unordered
// otherwise. unordered is below zero but the callers above exclude it.
func order(a, b Value) int {
	switch {
	case a.kind == KindNumber && b.kind == KindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		case a.num == b.num:
			return 0
		}
	case a.kind == KindString && b.kind == KindString:
		return strings.Compare(a.str, b.str)
	}
	return unordered
}

func looseEqual(a, b Value) bool {
	if a.kind == b.kind {
		return a.Equal(b)
	}
	scalar := func(v Value) bool {
		return v.kind == KindString || v.kind == KindNumber || v.kind == KindBool
	}
	if scalar(a) && scalar(b) {
		return a.Text() == b.Text()
	}
	nullish := func(v Value) bool { return v.kind == KindNull || v.kind == KindAbsent }
	return nullish(a) && nullish(b)
}

// Query returns the top-level records for which every condition holds.
func (s *Store) Query(conditions ...Condition) (map[string]Value, error) {
	entries, err := s.Entries(conditions...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(entries))
	for _, entry := range entries {
		out[entry.Key] = entry.Value
	}
	return out, nil
}

// Entries is Query in numeric-aware key order.
func (s *Store) Entries(conditions ...Condition) ([]Entry, error) {
	predicates := make([]predicate, len(conditions))
	for i, cond := range conditions {
		pred, err := cond.predicate()
		if err != nil {
			return nil, err
		}
		predicates[i] = pred
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, key := range s.sortedKeysLocked() {
		record := s.records[key]
		matched := true
		for i, cond := range conditions {
			if !predicates[i](lookupIn(record, cond.Path)) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, Entry{Key: key, Value: record})
		}
	}
	return out, nil
}

func (s *Store) Keys(conditions ...Condition) ([]string, error) {
	entries, err := s.Entries(conditions...)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys, nil
}

func (s *Store) Values(conditions ...Condition) ([]Value, error) {
	entries, err := s.Entries(conditions...)
	if err != nil {
		return nil, err
	}
	values := make([]Value, len(entries))
	for i, entry := range entries {
		values[i] = entry.Value
	}
	return values, nil
}

func lookupIn(record Value, sub Path) Value {
	node := record
	for _, segment := range sub {
		if node.kind != KindObject {
			return Absent
		}
		next, ok := node.obj[segment]
		if !ok {
			return Absent
		}
		node = next
	}
	return node
}
