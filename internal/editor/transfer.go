package editor

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed import_schema.json
var importSchemaJSON []byte

const importSchemaURL = "https://cardbuilder.local/schemas/import.json"

var (
	importSchemaOnce sync.Once
	importSchema     *jsonschema.Schema
	importSchemaErr  error
)

func compiledImportSchema() (*jsonschema.Schema, error) {
	importSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(importSchemaJSON))
		if err != nil {
			importSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(importSchemaURL, doc); err != nil {
			importSchemaErr = err
			return
		}
		importSchema, importSchemaErr = compiler.Compile(importSchemaURL)
	})
	return importSchema, importSchemaErr
}

// ImportResult lists the tabs that received data. Diagnostics explain every
// payload or record that was dropped along the way.
type ImportResult struct {
	Tabs        []Tab    `json:"tabs"`
	Cards       int      `json:"cards"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

func parseImportPayload(raw []byte) (docstore.Value, error) {
	schema, err := compiledImportSchema()
	if err != nil {
		return docstore.Absent, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return docstore.Absent, fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}
	if err := schema.Validate(instance); err != nil {
		return docstore.Absent, fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}
	return docstore.FromAny(instance)
}

// importPayloads merges untrusted payloads into the live stores. Everything
// is staged in quarantine spaces seeded above the live high-water marks, so
// ids from the file never touch existing records.
func (e *Editor) importPayloads(ctx context.Context, payloads [][]byte, target int) (ImportResult, error) {
	result := ImportResult{Tabs: []Tab{}}
	e.publish(events.Event{Type: events.ImportStarted, TabID: target})
	fail := func(err error) (ImportResult, error) {
		e.log.Warn().Err(err).Strs("diagnostics", result.Diagnostics).Msg("import aborted")
		e.publish(events.Event{Type: events.ImportFailed, TabID: target, Message: err.Error()})
		return result, err
	}
	diagnose := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		e.log.Warn().Str("diagnostic", msg).Msg("import dropped data")
		result.Diagnostics = append(result.Diagnostics, msg)
	}

	if target != 0 && !e.tabs.live(target) {
		return fail(fmt.Errorf("%w: tab %d", ErrNotFound, target))
	}

	docs := make([]docstore.Value, 0, len(payloads))
	for i, raw := range payloads {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		doc, err := parseImportPayload(raw)
		if err != nil {
			diagnose("payload %d: %v", i, err)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return fail(fmt.Errorf("%w: no payload carried tabs and cards", ErrMalformedImport))
	}

	tabQ := docstore.NewMemoryIdentityStore("import-tabs", max(quarantineFloor, e.tabs.store.HighWater()+1), tabIDField, nil)
	cardQ := docstore.NewMemoryIdentityStore("import-cards", max(quarantineFloor, e.cards.store.HighWater()+1), cardIDField, nil)
	defer func() {
		_ = tabQ.Flush()
		_ = cardQ.Flush()
	}()

	shape := e.defaults.CardShape()
	for i, doc := range docs {
		refs := map[int]int{}
		if target == 0 {
			for j, raw := range doc.Field("tabs").Items() {
				src, err := tabQ.CoerceID(raw.Field(tabIDField))
				if err != nil {
					diagnose("payload %d tab %d: no usable tid", i, j)
					continue
				}
				qid := tabQ.NextID()
				staged := docstore.Object(map[string]docstore.Value{
					tabIDField: docstore.Int(qid),
					"title":    docstore.String(""),
					"styles":   docstore.NewObject(),
				})
				if title, ok := raw.Field("title").Str(); ok {
					staged.With("title", docstore.String(title))
				}
				styles := raw.Field("styles")
				for _, prop := range styles.FieldNames() {
					if e.defaults.HasStyle(prop) {
						staged.Field("styles").With(prop, docstore.String(styles.Field(prop).Text()))
					}
				}
				if err := tabQ.Put(qid, staged); err != nil {
					return fail(err)
				}
				refs[src] = qid
			}
		}

		for j, raw := range doc.Field("cards").Items() {
			staged := docstore.Object(map[string]docstore.Value{
				"fields": project(raw.Field("fields"), shape),
			})
			if target != 0 {
				staged.With(tabIDField, docstore.Int(target))
			} else {
				src, err := tabQ.CoerceID(raw.Field(tabIDField))
				qtid, ok := refs[src]
				if err != nil || !ok {
					diagnose("payload %d card %d: tid %s matches no imported tab", i, j, raw.Field(tabIDField).Text())
					continue
				}
				staged.With("originalTid", docstore.Int(qtid))
			}
			qid := cardQ.NextID()
			staged.With(cardIDField, docstore.Int(qid))
			if err := cardQ.Put(qid, staged); err != nil {
				return fail(err)
			}
		}
	}

	var created []int
	if target == 0 {
		qids, err := tabQ.IDs()
		if err != nil {
			return fail(err)
		}
		for _, qid := range qids {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			tab, err := e.tabs.create(CreateTabOptions{Record: tabQ.Record(qid)})
			if err != nil {
				return fail(err)
			}
			created = append(created, tab.ID)
			staged, err := cardQ.IDs(docstore.Where("originalTid", "===", qid))
			if err != nil {
				return fail(err)
			}
			for _, cid := range staged {
				if err := cardQ.Set(docstore.PathOf(cid, tabIDField), docstore.Int(tab.ID)); err != nil {
					return fail(err)
				}
				if err := cardQ.Unset(docstore.PathOf(cid, "originalTid")); err != nil {
					return fail(err)
				}
			}
		}
	} else {
		created = []int{target}
	}

	staged, err := cardQ.Values()
	if err != nil {
		return fail(err)
	}
	for _, record := range staged {
		record = record.Clone().Without(cardIDField)
		card, err := e.cards.add(record)
		if err != nil {
			return fail(err)
		}
		if card != nil {
			result.Cards++
		}
	}

	for _, id := range created {
		tab, err := e.tabs.get(id)
		if err == nil {
			result.Tabs = append(result.Tabs, tab)
		}
	}
	e.log.Info().Int("tabs", len(result.Tabs)).Int("cards", result.Cards).Int("diagnostics", len(result.Diagnostics)).Msg("import finished")
	e.publish(events.Event{Type: events.ImportFinished, TabIDs: created})
	return result, nil
}

// ExportFile is a download-ready import/export document.
type ExportFile struct {
	FileName string
	Document []byte
}

var exportStampReplacer = strings.NewReplacer(":", "-", ".", "-")

func exportFileName(now time.Time) string {
	return "cardbuilder-" + exportStampReplacer.Replace(now.UTC().Format("2006-01-02T15:04:05.000Z07:00")) + ".json"
}

// export writes one tab, or every live tab when tid is 0, with its cards.
func (e *Editor) export(tid int, now time.Time) (ExportFile, error) {
	var tabIDs []int
	if tid != 0 {
		if !e.tabs.exists(tid) {
			return ExportFile{}, fmt.Errorf("%w: tab %d", ErrNotFound, tid)
		}
		tabIDs = []int{tid}
	} else {
		for _, tab := range e.tabs.list(ListFilter{SoftDeleted: true}) {
			tabIDs = append(tabIDs, tab.ID)
		}
	}

	tabs := make([]docstore.Value, 0, len(tabIDs))
	var cards []docstore.Value
	for _, id := range tabIDs {
		record := e.tabs.store.GetClone(docstore.Path{docstore.Key(id)})
		tabs = append(tabs, docstore.Object(map[string]docstore.Value{
			tabIDField: docstore.Int(id),
			"title":    record.Field("title"),
			"styles":   record.Field("styles"),
		}))
		owned, err := e.cards.store.Values(docstore.Where(tabIDField, "===", id))
		if err != nil {
			return ExportFile{}, err
		}
		for _, card := range owned {
			if card.Field("softDeleted").Truthy() {
				continue
			}
			cards = append(cards, docstore.Object(map[string]docstore.Value{
				cardIDField: card.Field(cardIDField),
				tabIDField:  docstore.Int(id),
				"fields":    card.Field("fields").Clone(),
			}))
		}
	}

	doc := docstore.Object(map[string]docstore.Value{
		"tabs":  docstore.List(tabs...),
		"cards": docstore.List(cards...),
	})
	compact, err := doc.MarshalJSON()
	if err != nil {
		return ExportFile{}, err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, compact, "", "  "); err != nil {
		return ExportFile{}, err
	}
	return ExportFile{FileName: exportFileName(now), Document: pretty.Bytes()}, nil
}
