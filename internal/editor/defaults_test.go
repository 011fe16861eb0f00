package editor

import (
	"testing"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShippedDefaults(t *testing.T) {
	d, err := LoadDefaults(zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, d.HasStyle("color"))
	assert.False(t, d.HasStyle("z-index"))
	assert.Equal(t, []string{"night", "parchment", "stone"}, d.PresetNames())
	assert.Equal(t, "Tab 4", d.DefaultTitle(4))
	assert.True(t, d.IsDefaultTitle("Tab 12"))
	assert.True(t, d.IsDefaultTitle(""))
	assert.False(t, d.IsDefaultTitle("Tab twelve"))

	shape := d.CardShape()
	assert.Equal(t, "Armor Class", shape.Field("ac").Field("label").Field("txt").Field("long").Text())
}

func TestDefaultsRefuseMutation(t *testing.T) {
	d, err := LoadDefaults(zerolog.Nop())
	require.NoError(t, err)

	err = d.store.Set(docstore.ParsePath("styles.color"), docstore.String("#000"))
	assert.ErrorIs(t, err, docstore.ErrReadOnly)
	assert.NotEqual(t, "#000", d.Styles()["color"])

	styles := d.Styles()
	styles["color"] = "#000"
	assert.NotEqual(t, "#000", d.Styles()["color"])
}

func TestLoadDefaultsValidates(t *testing.T) {
	_, err := loadDefaults([]byte(`{"tab":{"titlePattern":"^Tab"}}`), zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = loadDefaults([]byte(`{"card":{"fields":{}},"tab":{"titlePattern":"("}}`), zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProjectCoercesToShape(t *testing.T) {
	shape := docstore.Object(map[string]docstore.Value{
		"txt": docstore.String(""),
		"vis": docstore.Bool(true),
		"n":   docstore.Int(0),
	})
	incoming := docstore.Object(map[string]docstore.Value{
		"txt":   docstore.Int(5),
		"vis":   docstore.String(""),
		"n":     docstore.String("x"),
		"extra": docstore.String("dropped"),
	})
	out := project(incoming, shape)
	assert.Equal(t, "5", out.Field("txt").Text())
	vis, ok := out.Field("vis").BoolValue()
	require.True(t, ok)
	assert.False(t, vis)
	assert.Equal(t, "0", out.Field("n").Text())
	assert.True(t, out.Field("extra").IsAbsent())
}
