package editor

import (
	"fmt"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/agentworkforce/cardbuilder/internal/softdelete"
)

// cardManager owns the card identity space. Every card references exactly one
// tab through its tid.
type cardManager struct {
	e     *Editor
	store *docstore.IdentityStore
}

func cardKey(id int) string {
	return fmt.Sprintf("card:%d", id)
}

func (m *cardManager) blank(int) docstore.Value {
	return docstore.Object(map[string]docstore.Value{
		"fields": m.e.defaults.CardShape(),
	})
}

func (m *cardManager) exists(id int) bool {
	return m.store.Record(id).IsObject()
}

func (m *cardManager) get(id int) (Card, error) {
	record := m.store.Record(id)
	if !record.IsObject() {
		return Card{}, fmt.Errorf("%w: card %d", ErrNotFound, id)
	}
	return cardFromValue(record), nil
}

// owns reports whether any card references the tab.
func (m *cardManager) owns(tid int) bool {
	ids, err := m.store.IDs(docstore.Where(tabIDField, "===", tid))
	return err == nil && len(ids) > 0
}

// sanitize rebuilds a caller-supplied card from its tab reference and the
// card shape. Ids and flags are allocated by the store, never taken from input.
func (m *cardManager) sanitize(record docstore.Value) docstore.Value {
	if !record.IsObject() {
		return record
	}
	clean := docstore.Object(map[string]docstore.Value{
		"fields": project(record.Field("fields"), m.e.defaults.CardShape()),
	})
	if ref := record.Field(tabIDField); !ref.IsAbsent() {
		clean.With(tabIDField, ref.Clone())
	}
	return clean
}

// add files a card under its tab. A card whose tab no longer exists is an
// orphan: it is removed from the store and add returns nil without an error.
func (m *cardManager) add(record docstore.Value) (*Card, error) {
	if record.IsAbsent() {
		record = m.store.Blank()
	}
	if !record.IsObject() {
		return nil, fmt.Errorf("%w: card must be an object", ErrInvalidInput)
	}
	record = record.Clone()

	var (
		cid int
		err error
	)
	hasID := !record.Field(cardIDField).IsAbsent()
	if hasID {
		if cid, err = m.store.CoerceID(record.Field(cardIDField)); err != nil {
			return nil, err
		}
	}

	tid := 0
	if ref := record.Field(tabIDField); !ref.IsAbsent() && ref.Kind() != docstore.KindNull {
		if tid, err = m.e.tabs.store.CoerceID(ref); err != nil {
			return nil, err
		}
		if !m.e.tabs.exists(tid) {
			m.e.log.Warn().Int("cid", cid).Int("tid", tid).Msg("dropping card that references a missing tab")
			if hasID && m.exists(cid) {
				if err := m.store.Remove(cid); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}
	} else {
		tid = m.e.tabs.activeID()
		if tid == 0 {
			return nil, fmt.Errorf("%w: no active tab", ErrNotFound)
		}
	}

	if !hasID {
		cid = m.store.NextID()
	}
	if !record.Field("fields").IsObject() {
		record.With("fields", m.e.defaults.CardShape())
	}
	record.With(cardIDField, docstore.Int(cid))
	record.With(tabIDField, docstore.Int(tid))
	if err := m.store.Put(cid, record); err != nil {
		return nil, err
	}
	m.e.publish(events.Event{Type: events.CardAdded, CardID: cid, TabID: tid})
	card := cardFromValue(record)
	return &card, nil
}

func (m *cardManager) remove(id int, mode RemoveMode) (*softdelete.Pending, error) {
	switch mode {
	case ModeSoft:
		return m.softRemove(id)
	case ModeRestore:
		return nil, m.restore(id)
	case ModeRemove:
		return nil, m.hardRemove(id)
	default:
		return nil, fmt.Errorf("%w: card remove mode %q", ErrInvalidInput, mode)
	}
}

func (m *cardManager) softRemove(id int) (*softdelete.Pending, error) {
	card, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(docstore.PathOf(id, "softDeleted"), docstore.Bool(true)); err != nil {
		return nil, err
	}
	pending := m.e.undo.Begin(cardKey(id), m.e.resolveCard(id))
	m.e.publish(events.Event{Type: events.CardRemoved, CardID: id, TabID: card.TabID, UndoKey: cardKey(id)})
	return pending, nil
}

func (m *cardManager) restore(id int) error {
	card, err := m.get(id)
	if err != nil {
		return err
	}
	if err := m.store.Unset(docstore.PathOf(id, "softDeleted")); err != nil {
		return err
	}
	m.e.undo.Settle(cardKey(id), softdelete.Restored)
	m.e.publish(events.Event{Type: events.CardUpdated, CardID: id, TabID: card.TabID})
	return nil
}

func (m *cardManager) hardRemove(id int) error {
	card, err := m.get(id)
	if err != nil {
		return err
	}
	m.e.undo.Settle(cardKey(id), softdelete.Removed)
	if err := m.store.Remove(id); err != nil {
		return err
	}
	m.e.publish(events.Event{Type: events.CardRemoved, CardID: id, TabID: card.TabID})
	return nil
}

// purge removes exactly the cards whose tid equals the tab.
func (m *cardManager) purge(tid int) (int, error) {
	ids, err := m.store.IDs(docstore.Where(tabIDField, "===", tid))
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	inputs := make([]any, len(ids))
	for i, id := range ids {
		m.e.undo.Settle(cardKey(id), softdelete.Removed)
		inputs[i] = id
	}
	if err := m.store.Remove(inputs...); err != nil {
		return 0, err
	}
	for _, id := range ids {
		m.e.publish(events.Event{Type: events.CardRemoved, CardID: id, TabID: tid})
	}
	return len(ids), nil
}

// setField writes one leaf below the card's fields. Only leaves present in
// the blank card shape are writable, and the value must match their kind.
func (m *cardManager) setField(id int, path string, raw any) (Card, error) {
	if !m.exists(id) {
		return Card{}, fmt.Errorf("%w: card %d", ErrNotFound, id)
	}
	sub := docstore.ParsePath(path)
	kind, ok := leafKind(m.e.defaults.CardShape(), sub)
	if !ok {
		return Card{}, fmt.Errorf("%w: field path %q", ErrInvalidInput, path)
	}
	value, err := docstore.FromAny(raw)
	if err != nil {
		return Card{}, err
	}
	switch {
	case kind == docstore.KindString && value.Kind() == docstore.KindNumber:
		value = docstore.String(value.Text())
	case kind != value.Kind():
		return Card{}, fmt.Errorf("%w: %s expects %s, got %s", ErrInvalidInput, path, kind, value.Kind())
	}
	if err := m.store.Set(docstore.PathOf(id, "fields").Join(sub...), value); err != nil {
		return Card{}, err
	}
	card := cardFromValue(m.store.Record(id))
	m.e.publish(events.Event{Type: events.CardUpdated, CardID: id, TabID: card.TabID})
	return card, nil
}

// list returns the cards of one tab, or every card when tid is 0.
func (m *cardManager) list(tid int) ([]Card, error) {
	var conditions []docstore.Condition
	if tid != 0 {
		conditions = append(conditions, docstore.Where(tabIDField, "===", tid))
	}
	values, err := m.store.Values(conditions...)
	if err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(values))
	for _, value := range values {
		cards = append(cards, cardFromValue(value))
	}
	return cards, nil
}

// bootstrap replays persisted cards through add once tabs are in place.
// Cards still flagged from a previous session are removed.
func (m *cardManager) bootstrap() error {
	entries, err := m.store.Entries()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		record := entry.Value.Clone()
		if record.Field("softDeleted").Truthy() {
			if err := m.store.Store.Remove(entry.Key); err != nil {
				return err
			}
			continue
		}
		if record.Field(cardIDField).IsAbsent() {
			record.With(cardIDField, docstore.String(entry.Key))
		}
		if _, err := m.add(record); err != nil {
			m.e.log.Warn().Err(err).Str("key", entry.Key).Msg("skipping unreadable card")
		}
	}
	return nil
}
