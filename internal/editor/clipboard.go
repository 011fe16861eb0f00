package editor

import (
	"fmt"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/events"
)

const (
	ClipCut  = "cut"
	ClipCopy = "copy"
)

// clipboard is a transient identity space holding deep copies of cut or
// copied cards until the next paste or clear.
type clipboard struct {
	e      *Editor
	store  *docstore.IdentityStore
	marked int
	mode   string
}

func (c *clipboard) available() bool {
	return c.store.Len() > 0
}

func (c *clipboard) take(id int, mode string) error {
	source := c.e.cards.store.GetClone(docstore.Path{docstore.Key(id)})
	if !source.IsObject() {
		return fmt.Errorf("%w: card %d", ErrNotFound, id)
	}
	c.clearMarker()
	if err := c.store.Flush(); err != nil {
		return err
	}

	entryID := c.store.NextID()
	source.Without("softDeleted")
	source.With("originalId", docstore.Int(id))
	source.With("mode", docstore.String(mode))
	source.With(cardIDField, docstore.Int(entryID))
	if err := c.store.Put(entryID, source); err != nil {
		return err
	}
	c.marked = id
	c.mode = mode
	c.e.publish(events.Event{Type: events.ClipboardMarked, CardID: id, ClipboardMode: mode})
	c.e.publish(events.Event{Type: events.PasteAvailability, PasteAvailable: events.Bool(true)})
	return nil
}

func (c *clipboard) clearMarker() {
	if c.marked == 0 {
		return
	}
	c.e.publish(events.Event{Type: events.ClipboardMarked, CardID: c.marked})
	c.marked = 0
	c.mode = ""
}

// paste files every entry under the target tab with a fresh card id. Cut
// entries remove their original. The clipboard is emptied afterwards, so a
// second paste without a new cut or copy adds nothing.
func (c *clipboard) paste(tid int) ([]Card, error) {
	if tid == 0 {
		tid = c.e.tabs.activeID()
	}
	if !c.e.tabs.live(tid) {
		return nil, fmt.Errorf("%w: tab %d", ErrNotFound, tid)
	}
	entries, err := c.store.Values()
	if err != nil {
		return nil, err
	}

	pasted := make([]Card, 0, len(entries))
	for _, entry := range entries {
		record := entry.Clone()
		original, _ := record.Field("originalId").IntValue()
		mode := record.Field("mode").Text()
		record.Without("originalId").Without("mode").Without(cardIDField)
		record.With(tabIDField, docstore.Int(tid))

		card, err := c.e.cards.add(record)
		if err != nil {
			return pasted, err
		}
		if card != nil {
			pasted = append(pasted, *card)
		}
		if mode == ClipCut && c.e.cards.exists(original) {
			if err := c.e.cards.hardRemove(original); err != nil {
				return pasted, err
			}
		}
	}
	return pasted, c.clear()
}

func (c *clipboard) clear() error {
	wasAvailable := c.available()
	c.clearMarker()
	if err := c.store.Flush(); err != nil {
		return err
	}
	if wasAvailable {
		c.e.publish(events.Event{Type: events.PasteAvailability, PasteAvailable: events.Bool(false)})
	}
	return nil
}
