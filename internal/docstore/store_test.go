package docstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := NewMemory("records")

	require.NoError(t, s.Set(ParsePath("3001.fields.name.field.txt"), String("Goblin")))
	assert.Equal(t, "Goblin", s.Get(ParsePath("3001.fields.name.field.txt")).Text())
	assert.True(t, s.Get(ParsePath("3001.fields")).IsObject())

	require.NoError(t, s.Unset(ParsePath("3001.fields.name.field.txt")))
	assert.True(t, s.Get(ParsePath("3001.fields.name.field.txt")).IsAbsent())
}

func TestGetDistinguishesAbsentFromFalsy(t *testing.T) {
	s := NewMemory("records")
	require.NoError(t, s.Set(ParsePath("1.title"), String("")))
	require.NoError(t, s.Set(ParsePath("1.active"), Bool(false)))

	assert.False(t, s.Get(ParsePath("1.title")).IsAbsent())
	assert.False(t, s.Get(ParsePath("1.active")).IsAbsent())
	assert.True(t, s.Has(ParsePath("1.title")))
	assert.False(t, s.Has(ParsePath("1.missing")))
	assert.False(t, s.Has(ParsePath("2")))
}

func TestSetThroughScalarFailsWithoutMutation(t *testing.T) {
	s := NewMemory("records")
	require.NoError(t, s.Set(ParsePath("1.title"), String("Tab 1")))

	err := s.Set(ParsePath("1.title.short"), String("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	assert.Equal(t, "Tab 1", s.Get(ParsePath("1.title")).Text())

	err = s.Set(Path{}, String("x"))
	assert.True(t, errors.Is(err, ErrInvalidPath))
}

func TestUnsetMissingIsNoop(t *testing.T) {
	s := NewMemory("records")
	require.NoError(t, s.Unset(ParsePath("9.a.b")))
	assert.Equal(t, 0, s.Len())
}

func TestGetCloneIsDeep(t *testing.T) {
	s := NewMemory("records")
	require.NoError(t, s.Set(ParsePath("1.styles.color"), String("red")))

	clone := s.GetClone(ParsePath("1"))
	clone.Field("styles").With("color", String("blue"))

	assert.Equal(t, "red", s.Get(ParsePath("1.styles.color")).Text())
}

func TestWriteThroughPersistsEveryMutation(t *testing.T) {
	slot := NewInMemorySlot()
	s, err := New(Options{Name: "cards", Slot: slot})
	require.NoError(t, err)

	require.NoError(t, s.Set(ParsePath("3001.tid"), Int(1)))
	require.NoError(t, s.Set(ParsePath("3002.tid"), Int(1)))
	require.NoError(t, s.Remove("3001", "3002"))
	assert.Equal(t, 3, slot.Saves())

	require.NoError(t, s.Set(ParsePath("3003.tid"), Int(2)))
	reloaded, err := New(Options{Name: "cards", Slot: slot})
	require.NoError(t, err)
	assert.Equal(t, []string{"3003"}, reloaded.AllKeys())
	tid, ok := reloaded.Get(ParsePath("3003.tid")).IntValue()
	require.True(t, ok)
	assert.Equal(t, 2, tid)
}

func TestPersistentStoreRequiresName(t *testing.T) {
	_, err := New(Options{Slot: NewInMemorySlot()})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSerializeUsesSortedKeys(t *testing.T) {
	s := NewMemory("tabs")
	require.NoError(t, s.Set(ParsePath("2.title"), String("b")))
	require.NoError(t, s.Set(ParsePath("1.title"), String("a")))

	data, err := s.Serialize(false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":{"title":"a"},"2":{"title":"b"}}`, string(data))

	require.NoError(t, s.Flush())
	assert.Equal(t, 0, s.Len())
}

func TestAllKeysOrdersNumerically(t *testing.T) {
	s := NewMemory("tabs")
	for _, key := range []string{"10", "2", "1", "alpha"} {
		require.NoError(t, s.Set(Path{key}, NewObject()))
	}
	assert.Equal(t, []string{"1", "2", "10", "alpha"}, s.AllKeys())
}
