package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedQueryStore(t *testing.T) *Store {
	t.Helper()
	s := NewMemory("records")
	require.NoError(t, s.Set(Path{"1"}, Object(map[string]Value{"a": Int(1), "flag": Bool(true), "name": String("Goblin")})))
	require.NoError(t, s.Set(Path{"2"}, Object(map[string]Value{"a": Int(2), "flag": Bool(false), "name": String("Orc")})))
	require.NoError(t, s.Set(Path{"3"}, Object(map[string]Value{"a": String("2"), "nested": NewObject()})))
	return s
}

func TestQueryStrictEquality(t *testing.T) {
	s := seedQueryStore(t)
	keys, err := s.Keys(Where("flag", "===", true))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, keys)
}

func TestQueryConjunctionIsIntersection(t *testing.T) {
	s := seedQueryStore(t)
	both, err := s.Keys(Where("a", ">=", 1), Where("flag", "===", false))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, both)

	none, err := s.Keys(Where("flag", "===", true), Where("flag", "===", false))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryLooseEquality(t *testing.T) {
	s := seedQueryStore(t)
	strict, err := s.Keys(Where("a", "===", 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, strict)

	loose, err := s.Keys(Where("a", "==", 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, loose)

	notLoose, err := s.Keys(Where("a", "!=", 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, notLoose)
}

func TestQueryTypeofHasAndMatch(t *testing.T) {
	s := seedQueryStore(t)

	strings, err := s.Keys(Where("a", "typeof", "string"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, strings)

	withName, err := s.Keys(Where("", "has", "name"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, withName)

	matched, err := s.Keys(Where("name", "match", "^G"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, matched)
}

func TestQueryCustomComparator(t *testing.T) {
	s := seedQueryStore(t)
	even := func(actual, _ Value) bool {
		n, ok := actual.IntValue()
		return ok && n%2 == 0
	}
	keys, err := s.Keys(Where("a", even, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, keys)
}

func TestQueryUnknownComparator(t *testing.T) {
	s := seedQueryStore(t)
	_, err := s.Query(Where("a", "between", 1))
	assert.ErrorIs(t, err, ErrUnknownComparator)

	_, err = s.Query(Where("a", 42, 1))
	assert.ErrorIs(t, err, ErrUnknownComparator)
}

func TestQueryInvalidPattern(t *testing.T) {
	s := seedQueryStore(t)
	_, err := s.Query(Where("name", "~", "("))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
