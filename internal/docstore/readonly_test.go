package docstore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnlyRejectsMutations(t *testing.T) {
	ro, err := LoadReadOnly("defaults", []byte(`{"styles":{"color":"#000"}}`), zerolog.Nop())
	require.NoError(t, err)

	assert.ErrorIs(t, ro.Set(ParsePath("styles.color"), String("#fff")), ErrReadOnly)
	assert.ErrorIs(t, ro.Unset(ParsePath("styles.color")), ErrReadOnly)
	assert.ErrorIs(t, ro.Remove("styles"), ErrReadOnly)
	assert.ErrorIs(t, ro.Flush(), ErrReadOnly)

	assert.Equal(t, "#000", ro.Get(ParsePath("styles.color")).Text())
	assert.Equal(t, 1, ro.Len())
	assert.False(t, ro.Has(ParsePath("styles.size")))
}

func TestLoadReadOnlyRejectsBadJSON(t *testing.T) {
	_, err := LoadReadOnly("defaults", []byte(`[`), zerolog.Nop())
	assert.Error(t, err)
}
