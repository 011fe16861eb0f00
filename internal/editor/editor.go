// Package editor holds the tab, card, clipboard and import logic of the card
// builder on top of the document store.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/agentworkforce/cardbuilder/internal/softdelete"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = docstore.ErrInvalidInput
	ErrMalformedImport = errors.New("malformed import payload")
)

const (
	DefaultTabsSlotName  = "cardbuilder-tabs"
	DefaultCardsSlotName = "cardbuilder-cards"
)

type Options struct {
	// Slot persists the tab and card stores. Nil keeps everything in memory.
	Slot          docstore.Slot
	TabsSlotName  string
	CardsSlotName string
	UndoWindow    time.Duration
	Layout        Layout
	Defaults      *Defaults
	Publisher     events.Publisher
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Editor serializes every gesture behind one mutex. Undo timers re-enter
// through the same lock when they expire.
type Editor struct {
	mu sync.Mutex

	log       zerolog.Logger
	pub       events.Publisher
	defaults  *Defaults
	undo      *softdelete.Coordinator
	tabs      *tabManager
	cards     *cardManager
	clipboard *clipboard
	slot      docstore.Slot
	now       func() time.Time
}

func New(opts Options) (*Editor, error) {
	defaults := opts.Defaults
	if defaults == nil {
		loaded, err := LoadDefaults(opts.Logger)
		if err != nil {
			return nil, err
		}
		defaults = loaded
	}
	layout := opts.Layout
	if layout.TabWidth <= 0 {
		layout.TabWidth = defaultTabWidth
	}
	if layout.AvailableWidth <= 0 {
		layout.AvailableWidth = defaultAvailableWidth
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Editor{
		log:      opts.Logger,
		pub:      opts.Publisher,
		defaults: defaults,
		slot:     opts.Slot,
		now:      now,
		undo: softdelete.New(softdelete.Options{
			Window:    opts.UndoWindow,
			Logger:    opts.Logger,
			Publisher: opts.Publisher,
		}),
	}
	e.tabs = &tabManager{e: e, layout: layout, widths: map[int]float64{}}
	e.cards = &cardManager{e: e}
	e.clipboard = &clipboard{e: e}

	var err error
	e.tabs.store, err = docstore.NewIdentityStore(docstore.IdentityOptions{
		Options: docstore.Options{Name: nameOr(opts.TabsSlotName, DefaultTabsSlotName), Slot: opts.Slot, Logger: opts.Logger},
		Floor:   tabsFloor,
		IDField: tabIDField,
		Blank:   e.tabs.blank,
	})
	if err != nil {
		return nil, fmt.Errorf("open tabs: %w", err)
	}
	e.cards.store, err = docstore.NewIdentityStore(docstore.IdentityOptions{
		Options: docstore.Options{Name: nameOr(opts.CardsSlotName, DefaultCardsSlotName), Slot: opts.Slot, Logger: opts.Logger},
		Floor:   cardsFloor,
		IDField: cardIDField,
		Blank:   e.cards.blank,
	})
	if err != nil {
		return nil, fmt.Errorf("open cards: %w", err)
	}
	e.clipboard.store = docstore.NewMemoryIdentityStore("clipboard", clipboardFloor, cardIDField, nil)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.tabs.bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap tabs: %w", err)
	}
	if err := e.cards.bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap cards: %w", err)
	}
	e.log.Info().Int("tabs", len(e.tabs.order)).Int("cards", e.cards.store.Len()).Msg("editor ready")
	return e, nil
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return strings.TrimSpace(name)
}

// Close dismisses pending undo windows and releases the slot. Records that
// were soft-deleted stay flagged and are removed on the next start.
func (e *Editor) Close() error {
	e.undo.Cancel()
	e.undo.Drain()
	return docstore.CloseSlot(e.slot)
}

func (e *Editor) Defaults() *Defaults {
	return e.defaults
}

func (e *Editor) UndoWindow() time.Duration {
	return e.undo.Window()
}

func (e *Editor) publish(event events.Event) {
	if e.pub != nil {
		e.pub.Publish(event)
	}
}

func (e *Editor) resolveTab(id int) softdelete.ResolveFunc {
	return func(state softdelete.State) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.tabs.flagged(id) {
			return
		}
		var err error
		switch state {
		case softdelete.Removed:
			err = e.tabs.hardRemove(id)
		case softdelete.Restored:
			err = e.tabs.restore(id)
		}
		if err != nil {
			e.log.Error().Err(err).Int("tid", id).Stringer("state", state).Msg("resolve tab deletion")
		}
	}
}

func (e *Editor) resolveCard(id int) softdelete.ResolveFunc {
	return func(state softdelete.State) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.cards.store.Record(id).Field("softDeleted").Truthy() {
			return
		}
		var err error
		switch state {
		case softdelete.Removed:
			err = e.cards.hardRemove(id)
		case softdelete.Restored:
			err = e.cards.restore(id)
		}
		if err != nil {
			e.log.Error().Err(err).Int("cid", id).Stringer("state", state).Msg("resolve card deletion")
		}
	}
}

// flushPending hard-removes every record still inside its undo window and
// dismisses the affordances.
func (e *Editor) flushPending() error {
	for _, key := range e.undo.Keys() {
		kind, id, err := parseUndoKey(key)
		if err != nil {
			continue
		}
		switch kind {
		case "tab":
			if e.tabs.flagged(id) {
				if err := e.tabs.hardRemove(id); err != nil {
					return err
				}
			}
		case "card":
			if e.cards.store.Record(id).Field("softDeleted").Truthy() {
				if err := e.cards.hardRemove(id); err != nil {
					return err
				}
			}
		}
	}
	e.undo.Cancel()
	return nil
}

func parseUndoKey(key string) (string, int, error) {
	kind, rawID, ok := strings.Cut(key, ":")
	if !ok || (kind != "tab" && kind != "card") {
		return "", 0, fmt.Errorf("%w: undo key %q", ErrInvalidInput, key)
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return "", 0, fmt.Errorf("%w: undo key %q", ErrInvalidInput, key)
	}
	return kind, id, nil
}

// CreateTab adds a tab. The first tab of an empty collection is always
// activated.
func (e *Editor) CreateTab(opts CreateTabOptions) (Tab, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.create(opts)
}

func (e *Editor) ActivateTab(id int) (Tab, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.tabs.activate(id); err != nil {
		return Tab{}, err
	}
	return e.tabs.get(id)
}

func (e *Editor) ActiveTab() (Tab, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.get(e.tabs.activeID())
}

func (e *Editor) GetTab(id int) (Tab, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.get(id)
}

// RemoveTab applies mode to a tab. For ModeOthers id is the tab that stays;
// ModeEmpty and ModeAll ignore it. Only ModeSoft returns a pending undo.
func (e *Editor) RemoveTab(id int, mode RemoveMode) (*softdelete.Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.remove(id, mode)
}

func (e *Editor) ListTabs(filter ListFilter) []Tab {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.list(filter)
}

func (e *Editor) RenameTab(id int, title string) (Tab, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.rename(id, title)
}

func (e *Editor) SetStyle(id int, prop, value string) (map[string]string, error) {
	return e.SetStyles(id, map[string]string{prop: value})
}

func (e *Editor) SetStyles(id int, updates map[string]string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.setStyles(id, updates)
}

func (e *Editor) ApplyPreset(id int, name string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.applyPreset(id, name)
}

// Styles is the tab's merged style set: defaults overlaid by its overrides.
func (e *Editor) Styles(id int) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tabs.exists(id) {
		return nil, fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	return e.tabs.styles(id), nil
}

// Widths returns the clipped handle width of every live tab.
func (e *Editor) Widths() map[int]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int]float64, len(e.tabs.widths))
	for id, width := range e.tabs.widths {
		out[id] = width
	}
	return out
}

// AddCard files a card with a freshly allocated id. Absent builds a blank card
// on the active tab. Only the tid and the fields known to the card shape are
// kept from record. A card that names a missing tab is discarded and AddCard
// returns nil.
func (e *Editor) AddCard(record docstore.Value) (*Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cards.add(e.cards.sanitize(record))
}

func (e *Editor) GetCard(id int) (Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cards.get(id)
}

func (e *Editor) ListCards(tid int) ([]Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cards.list(tid)
}

func (e *Editor) RemoveCard(id int, mode RemoveMode) (*softdelete.Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cards.remove(id, mode)
}

func (e *Editor) SetCardField(id int, path string, value any) (Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cards.setField(id, path, value)
}

func (e *Editor) Cut(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipboard.take(id, ClipCut)
}

func (e *Editor) Copy(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipboard.take(id, ClipCopy)
}

// Paste files the clipboard into tid, or the active tab when tid is 0.
func (e *Editor) Paste(tid int) ([]Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipboard.paste(tid)
}

func (e *Editor) ClearClipboard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipboard.clear()
}

func (e *Editor) PasteAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipboard.available()
}

// Import merges payloads. With target 0 every payload brings its own tabs;
// otherwise all cards land on target.
func (e *Editor) Import(ctx context.Context, payloads [][]byte, target int) (ImportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.importPayloads(ctx, payloads, target)
}

func (e *Editor) Export(tid int) (ExportFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.export(tid, e.now())
}

// PendingUndo lists the keys ("tab:<id>", "card:<id>") inside their window.
func (e *Editor) PendingUndo() []string {
	return e.undo.Keys()
}

// CommitUndo ends an undo window early by removing the record now.
func (e *Editor) CommitUndo(key string) error {
	return e.settleUndo(key, ModeRemove)
}

// RestoreUndo reverts a soft delete by its undo key.
func (e *Editor) RestoreUndo(key string) error {
	return e.settleUndo(key, ModeRestore)
}

func (e *Editor) settleUndo(key string, mode RemoveMode) error {
	kind, id, err := parseUndoKey(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.undo.IsPending(key) {
		return fmt.Errorf("%w: undo %s", ErrNotFound, key)
	}
	if kind == "tab" {
		_, err = e.tabs.remove(id, mode)
		return err
	}
	_, err = e.cards.remove(id, mode)
	return err
}
