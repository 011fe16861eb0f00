package editor

import (
	"github.com/agentworkforce/cardbuilder/internal/docstore"
)

const (
	tabIDField  = "tid"
	cardIDField = "cid"

	tabsFloor       = 1
	cardsFloor      = 3001
	clipboardFloor  = 6001
	quarantineFloor = 9000
)

type Tab struct {
	ID          int               `json:"tid"`
	Title       string            `json:"title"`
	Active      bool              `json:"active"`
	SoftDeleted bool              `json:"softDeleted,omitempty"`
	Styles      map[string]string `json:"styles"`
}

type Card struct {
	ID          int                   `json:"cid"`
	TabID       int                   `json:"tid"`
	SoftDeleted bool                  `json:"softDeleted,omitempty"`
	Fields      map[string]FieldEntry `json:"fields"`
}

type FieldEntry struct {
	Field FieldText `json:"field"`
	Label Label     `json:"label"`
}

type FieldText struct {
	Txt string `json:"txt"`
	Vis bool   `json:"vis"`
}

type Label struct {
	Txt LabelText `json:"txt"`
	Vis bool      `json:"vis"`
}

type LabelText struct {
	Short string `json:"short"`
	Long  string `json:"long"`
}

func tabFromValue(v docstore.Value) Tab {
	id, _ := v.Field(tabIDField).IntValue()
	styles := stringMap(v.Field("styles"))
	return Tab{
		ID:          id,
		Title:       v.Field("title").Text(),
		Active:      v.Field("active").Truthy(),
		SoftDeleted: v.Field("softDeleted").Truthy(),
		Styles:      styles,
	}
}

func cardFromValue(v docstore.Value) Card {
	id, _ := v.Field(cardIDField).IntValue()
	tid, _ := v.Field(tabIDField).IntValue()
	card := Card{
		ID:          id,
		TabID:       tid,
		SoftDeleted: v.Field("softDeleted").Truthy(),
		Fields:      map[string]FieldEntry{},
	}
	fields := v.Field("fields")
	for _, key := range fields.FieldNames() {
		entry := fields.Field(key)
		label := entry.Field("label")
		card.Fields[key] = FieldEntry{
			Field: FieldText{
				Txt: scalarText(entry.Field("field").Field("txt")),
				Vis: entry.Field("field").Field("vis").Truthy(),
			},
			Label: Label{
				Txt: LabelText{
					Short: scalarText(label.Field("txt").Field("short")),
					Long:  scalarText(label.Field("txt").Field("long")),
				},
				Vis: label.Field("vis").Truthy(),
			},
		}
	}
	return card
}

func scalarText(v docstore.Value) string {
	switch v.Kind() {
	case docstore.KindString, docstore.KindNumber, docstore.KindBool:
		return v.Text()
	default:
		return ""
	}
}

// project keeps only the members of incoming that appear in shape, recursing
// into objects. Scalars are coerced to the kind the shape carries; members
// the shape has but incoming lacks take the shape's value.
func project(incoming, shape docstore.Value) docstore.Value {
	switch shape.Kind() {
	case docstore.KindObject:
		out := docstore.NewObject()
		for _, name := range shape.FieldNames() {
			out.With(name, project(incoming.Field(name), shape.Field(name)))
		}
		return out
	case docstore.KindString:
		switch incoming.Kind() {
		case docstore.KindString, docstore.KindNumber, docstore.KindBool:
			return docstore.String(incoming.Text())
		}
	case docstore.KindBool:
		switch incoming.Kind() {
		case docstore.KindBool, docstore.KindNumber, docstore.KindString:
			return docstore.Bool(incoming.Truthy())
		}
	case docstore.KindNumber:
		if incoming.Kind() == docstore.KindNumber {
			return incoming
		}
	}
	return shape.Clone()
}

// leafKind reports the scalar kind at sub inside shape, if sub names a leaf.
func leafKind(shape docstore.Value, sub docstore.Path) (docstore.Kind, bool) {
	node := shape
	for _, segment := range sub {
		node = node.Field(segment)
		if node.IsAbsent() {
			return docstore.KindAbsent, false
		}
	}
	switch node.Kind() {
	case docstore.KindString, docstore.KindBool, docstore.KindNumber:
		return node.Kind(), true
	default:
		return node.Kind(), false
	}
}
