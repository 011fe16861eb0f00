package editor

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/rs/zerolog"
)

//go:embed defaults.json
var defaultsJSON []byte

// Defaults is the shipped configuration: style properties, presets, the blank
// card shape and the tab title convention. It is read-only at runtime.
type Defaults struct {
	store        *docstore.ReadOnlyStore
	titlePrefix  string
	titlePattern *regexp.Regexp
}

func LoadDefaults(logger zerolog.Logger) (*Defaults, error) {
	return loadDefaults(defaultsJSON, logger)
}

func loadDefaults(document []byte, logger zerolog.Logger) (*Defaults, error) {
	store, err := docstore.LoadReadOnly("defaults", document, logger)
	if err != nil {
		return nil, err
	}
	if !store.Get(docstore.Path{"card", "fields"}).IsObject() {
		return nil, fmt.Errorf("%w: defaults lack a card shape", ErrInvalidInput)
	}
	pattern, err := regexp.Compile(store.Get(docstore.ParsePath("tab.titlePattern")).Text())
	if err != nil {
		return nil, fmt.Errorf("%w: title pattern: %v", ErrInvalidInput, err)
	}
	prefix, ok := store.Get(docstore.ParsePath("tab.titlePrefix")).Str()
	if !ok {
		prefix = "Tab "
	}
	return &Defaults{store: store, titlePrefix: prefix, titlePattern: pattern}, nil
}

// Styles returns a fresh copy of the default style set.
func (d *Defaults) Styles() map[string]string {
	return stringMap(d.store.Get(docstore.Path{"styles"}))
}

func (d *Defaults) HasStyle(prop string) bool {
	return d.store.Has(docstore.Path{"styles", prop})
}

func (d *Defaults) Preset(name string) (map[string]string, bool) {
	preset := d.store.Get(docstore.Path{"presets", name})
	if !preset.IsObject() {
		return nil, false
	}
	return stringMap(preset), true
}

func (d *Defaults) PresetNames() []string {
	return d.store.Get(docstore.Path{"presets"}).FieldNames()
}

// CardShape is a deep copy of the blank card's "fields" object.
func (d *Defaults) CardShape() docstore.Value {
	return d.store.GetClone(docstore.Path{"card", "fields"})
}

func (d *Defaults) DefaultTitle(tid int) string {
	return d.titlePrefix + strconv.Itoa(tid)
}

// IsDefaultTitle reports whether a title was generated rather than typed.
func (d *Defaults) IsDefaultTitle(title string) bool {
	return title == "" || d.titlePattern.MatchString(title)
}

func stringMap(v docstore.Value) map[string]string {
	out := make(map[string]string, v.Len())
	for _, name := range v.FieldNames() {
		out[name] = v.Field(name).Text()
	}
	return out
}
