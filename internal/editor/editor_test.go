package editor

import (
	"context"
	"testing"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/agentworkforce/cardbuilder/internal/softdelete"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEditor(t *testing.T, opts Options) *Editor {
	t.Helper()
	opts.Logger = zerolog.Nop()
	if opts.UndoWindow == 0 {
		opts.UndoWindow = time.Minute
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func activeCount(tabs []Tab) int {
	n := 0
	for _, tab := range tabs {
		if tab.Active {
			n++
		}
	}
	return n
}

func tabIDs(tabs []Tab) []int {
	ids := make([]int, len(tabs))
	for i, tab := range tabs {
		ids[i] = tab.ID
	}
	return ids
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func cardWithName(tid int, name string) docstore.Value {
	return docstore.Object(map[string]docstore.Value{
		"tid": docstore.Int(tid),
		"fields": docstore.Object(map[string]docstore.Value{
			"name": docstore.Object(map[string]docstore.Value{
				"field": docstore.Object(map[string]docstore.Value{"txt": docstore.String(name), "vis": docstore.Bool(true)}),
			}),
		}),
	})
}

func TestBootstrapCreatesActiveTab(t *testing.T) {
	e := newTestEditor(t, Options{})
	tabs := e.ListTabs(ListFilter{})
	require.Len(t, tabs, 1)
	assert.Equal(t, 1, tabs[0].ID)
	assert.Equal(t, "Tab 1", tabs[0].Title)
	assert.True(t, tabs[0].Active)
}

func TestCreateInsertAfterAndActivate(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	third, err := e.CreateTab(CreateTabOptions{InsertAfter: 1, Activate: true, Title: "Dungeon"})
	require.NoError(t, err)

	tabs := e.ListTabs(ListFilter{})
	assert.Equal(t, []int{1, 3, 2}, tabIDs(tabs))
	assert.Equal(t, 1, activeCount(tabs))
	assert.Equal(t, "Dungeon", third.Title)

	active, err := e.ActiveTab()
	require.NoError(t, err)
	assert.Equal(t, 3, active.ID)
}

func TestSoftRemovingActiveTabMovesActivation(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)

	pending, err := e.RemoveTab(1, ModeSoft)
	require.NoError(t, err)
	require.NotNil(t, pending)

	tabs := e.ListTabs(ListFilter{})
	assert.Equal(t, 1, activeCount(tabs))
	active, err := e.ActiveTab()
	require.NoError(t, err)
	assert.Equal(t, 2, active.ID)
	assert.Equal(t, []int{2}, tabIDs(e.ListTabs(ListFilter{SoftDeleted: true})))
}

func TestSoftRemovingLastLiveTabCreatesFreshOne(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.RemoveTab(1, ModeSoft)
	require.NoError(t, err)

	live := e.ListTabs(ListFilter{SoftDeleted: true})
	require.Len(t, live, 1)
	assert.Equal(t, 2, live[0].ID)
	assert.True(t, live[0].Active)
}

func TestSoftDeleteRestoreIsLossless(t *testing.T) {
	e := newTestEditor(t, Options{})
	card, err := e.AddCard(cardWithName(1, "Goblin"))
	require.NoError(t, err)
	before, err := e.cards.store.Serialize(false)
	require.NoError(t, err)

	pending, err := e.RemoveCard(card.ID, ModeSoft)
	require.NoError(t, err)
	_, err = e.RemoveCard(card.ID, ModeRestore)
	require.NoError(t, err)

	state, err := pending.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, softdelete.Restored, state)

	after, err := e.cards.store.Serialize(false)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestSoftDeleteTimeoutRemoves(t *testing.T) {
	e := newTestEditor(t, Options{UndoWindow: 20 * time.Millisecond})
	_, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	_, err = e.AddCard(cardWithName(2, "Orc"))
	require.NoError(t, err)

	pending, err := e.RemoveTab(2, ModeSoft)
	require.NoError(t, err)
	state, err := pending.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, softdelete.Removed, state)

	_, err = e.GetTab(2)
	assert.ErrorIs(t, err, ErrNotFound)
	cards, err := e.ListCards(0)
	require.NoError(t, err)
	assert.Empty(t, cards)
	assert.Equal(t, 1, activeCount(e.ListTabs(ListFilter{})))
}

func TestCommitUndoRemovesImmediately(t *testing.T) {
	e := newTestEditor(t, Options{})
	card, err := e.AddCard(docstore.Absent)
	require.NoError(t, err)
	_, err = e.RemoveCard(card.ID, ModeSoft)
	require.NoError(t, err)
	assert.Equal(t, []string{"card:3001"}, e.PendingUndo())

	require.NoError(t, e.CommitUndo("card:3001"))
	_, err = e.GetCard(card.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.CommitUndo("card:3001"), ErrNotFound)
	assert.ErrorIs(t, e.RestoreUndo("bogus"), ErrInvalidInput)
}

func TestHardRemoveCascadesOnlyOwnedCards(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	for _, tid := range []int{1, 1, 2} {
		_, err := e.AddCard(cardWithName(tid, "x"))
		require.NoError(t, err)
	}

	_, err = e.RemoveTab(1, ModeRemove)
	require.NoError(t, err)

	cards, err := e.ListCards(0)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, 2, cards[0].TabID)
	active, err := e.ActiveTab()
	require.NoError(t, err)
	assert.Equal(t, 2, active.ID)
}

func TestHardRemovingOnlyTabCreatesFreshOne(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.RemoveTab(1, ModeRemove)
	require.NoError(t, err)

	tabs := e.ListTabs(ListFilter{})
	require.Len(t, tabs, 1)
	assert.Equal(t, 1, tabs[0].ID)
	assert.True(t, tabs[0].Active)
}

func TestBulkModes(t *testing.T) {
	e := newTestEditor(t, Options{})
	for i := 0; i < 3; i++ {
		_, err := e.CreateTab(CreateTabOptions{})
		require.NoError(t, err)
	}
	_, err := e.AddCard(cardWithName(2, "kept"))
	require.NoError(t, err)
	_, err = e.RemoveTab(4, ModeSoft)
	require.NoError(t, err)

	_, err = e.RemoveTab(0, ModeEmpty)
	require.NoError(t, err)
	tabs := e.ListTabs(ListFilter{})
	assert.Equal(t, []int{2}, tabIDs(tabs))
	assert.True(t, tabs[0].Active)
	assert.Empty(t, e.PendingUndo())

	_, err = e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	_, err = e.RemoveTab(3, ModeOthers)
	require.NoError(t, err)
	tabs = e.ListTabs(ListFilter{})
	assert.Equal(t, []int{3}, tabIDs(tabs))
	assert.True(t, tabs[0].Active)

	_, err = e.RemoveTab(0, ModeAll)
	require.NoError(t, err)
	tabs = e.ListTabs(ListFilter{})
	require.Len(t, tabs, 1)
	assert.True(t, tabs[0].Active)
	cards, err := e.ListCards(0)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestListFilters(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	_, err = e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	_, err = e.AddCard(cardWithName(1, "x"))
	require.NoError(t, err)
	_, err = e.RemoveTab(3, ModeSoft)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, tabIDs(e.ListTabs(ListFilter{Populated: true})))
	assert.Equal(t, []int{1, 2}, tabIDs(e.ListTabs(ListFilter{SoftDeleted: true})))
	assert.Equal(t, []int{1, 3}, tabIDs(e.ListTabs(ListFilter{Exclude: []int{2}})))
}

func TestOrphanCardIsDroppedSilently(t *testing.T) {
	e := newTestEditor(t, Options{})
	card, err := e.AddCard(cardWithName(42, "lost"))
	require.NoError(t, err)
	assert.Nil(t, card)

	cards, err := e.ListCards(0)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestAddCardDefaultsToActiveTab(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.CreateTab(CreateTabOptions{Activate: true})
	require.NoError(t, err)

	card, err := e.AddCard(docstore.Absent)
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, 3001, card.ID)
	assert.Equal(t, 2, card.TabID)
	assert.Equal(t, "HP", card.Fields["hp"].Label.Txt.Short)
}

func TestAddCardAllocatesIDAndKeepsOnlyShapeFields(t *testing.T) {
	e := newTestEditor(t, Options{})
	second, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)

	first, err := e.AddCard(cardWithName(1, "Goblin"))
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, 3001, first.ID)

	intruder, err := e.AddCard(cardWithName(second.ID, "Intruder").With("cid", docstore.Int(first.ID)))
	require.NoError(t, err)
	require.NotNil(t, intruder)
	assert.Equal(t, 3002, intruder.ID)
	assert.Equal(t, second.ID, intruder.TabID)

	kept, err := e.GetCard(first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.TabID)
	assert.Equal(t, "Goblin", kept.Fields["name"].Field.Txt)

	low, err := e.AddCard(cardWithName(1, "Low").With("cid", docstore.Int(7)))
	require.NoError(t, err)
	require.NotNil(t, low)
	assert.Equal(t, 3003, low.ID)
	_, err = e.GetCard(7)
	assert.ErrorIs(t, err, ErrNotFound)

	flagged, err := e.AddCard(cardWithName(1, "Flagged").
		With("softDeleted", docstore.Bool(true)).
		With("bogus", docstore.String("x")))
	require.NoError(t, err)
	require.NotNil(t, flagged)
	assert.False(t, flagged.SoftDeleted)
	stored := e.cards.store.Record(flagged.ID)
	assert.True(t, stored.Field("bogus").IsAbsent())
	assert.True(t, stored.Field("softDeleted").IsAbsent())
	assert.Empty(t, e.PendingUndo())
}

func TestSetCardFieldWhitelist(t *testing.T) {
	e := newTestEditor(t, Options{})
	card, err := e.AddCard(docstore.Absent)
	require.NoError(t, err)

	updated, err := e.SetCardField(card.ID, "name.field.txt", "Goblin")
	require.NoError(t, err)
	assert.Equal(t, "Goblin", updated.Fields["name"].Field.Txt)

	updated, err = e.SetCardField(card.ID, "hp.field.txt", 7)
	require.NoError(t, err)
	assert.Equal(t, "7", updated.Fields["hp"].Field.Txt)

	_, err = e.SetCardField(card.ID, "name.field.vis", "yes")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.SetCardField(card.ID, "wings.field.txt", "two")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.SetCardField(card.ID, "name.field", "x")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.SetCardField(9999, "name.field.txt", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCutPasteMovesExactlyOnce(t *testing.T) {
	e := newTestEditor(t, Options{})
	_, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	original, err := e.AddCard(cardWithName(1, "Goblin"))
	require.NoError(t, err)

	require.NoError(t, e.Cut(original.ID))
	assert.True(t, e.PasteAvailable())

	pasted, err := e.Paste(2)
	require.NoError(t, err)
	require.Len(t, pasted, 1)
	assert.Equal(t, 3002, pasted[0].ID)
	assert.Equal(t, 2, pasted[0].TabID)
	assert.Equal(t, "Goblin", pasted[0].Fields["name"].Field.Txt)

	_, err = e.GetCard(original.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, e.PasteAvailable())

	again, err := e.Paste(2)
	require.NoError(t, err)
	assert.Empty(t, again)
	cards, err := e.ListCards(0)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func TestCopyPasteKeepsOriginal(t *testing.T) {
	e := newTestEditor(t, Options{})
	original, err := e.AddCard(cardWithName(1, "Orc"))
	require.NoError(t, err)

	require.NoError(t, e.Copy(original.ID))
	pasted, err := e.Paste(0)
	require.NoError(t, err)
	require.Len(t, pasted, 1)
	assert.NotEqual(t, original.ID, pasted[0].ID)

	_, err = e.GetCard(original.ID)
	assert.NoError(t, err)
	assert.ErrorIs(t, e.Copy(9999), ErrNotFound)
}

func TestNewCopyReplacesClipboard(t *testing.T) {
	e := newTestEditor(t, Options{})
	a, err := e.AddCard(cardWithName(1, "A"))
	require.NoError(t, err)
	b, err := e.AddCard(cardWithName(1, "B"))
	require.NoError(t, err)

	require.NoError(t, e.Cut(a.ID))
	require.NoError(t, e.Copy(b.ID))
	pasted, err := e.Paste(1)
	require.NoError(t, err)
	require.Len(t, pasted, 1)
	assert.Equal(t, "B", pasted[0].Fields["name"].Field.Txt)

	_, err = e.GetCard(a.ID)
	assert.NoError(t, err)
}

func TestStylesAndPresets(t *testing.T) {
	bus := events.NewBus(0)
	sub := bus.Subscribe(32)
	defer sub.Close()
	e := newTestEditor(t, Options{Publisher: bus})

	merged, err := e.SetStyle(1, "color", "#ff0000")
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", merged["color"])
	assert.Equal(t, e.Defaults().Styles()["font-size"], merged["font-size"])

	merged, err = e.SetStyle(1, "color", "")
	require.NoError(t, err)
	assert.Equal(t, e.Defaults().Styles()["color"], merged["color"])

	_, err = e.SetStyle(1, "z-index", "3")
	assert.ErrorIs(t, err, ErrInvalidInput)

	merged, err = e.ApplyPreset(1, "night")
	require.NoError(t, err)
	assert.Equal(t, "#1b1d26", merged["background-color"])
	_, err = e.ApplyPreset(1, "neon")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	_, err = e.ActivateTab(2)
	require.NoError(t, err)
	_, err = e.ActivateTab(1)
	require.NoError(t, err)

	var last events.Event
	for len(sub.C()) > 0 {
		if ev := <-sub.C(); ev.Type == events.TabActivated {
			last = ev
		}
	}
	assert.Equal(t, 1, last.TabID)
	assert.Equal(t, "#1b1d26", last.Styles["background-color"])
}

func TestWidthClipping(t *testing.T) {
	e := newTestEditor(t, Options{Layout: Layout{TabWidth: 100, AvailableWidth: 250}})
	_, err := e.CreateTab(CreateTabOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 100, 2: 100}, e.Widths())

	for i := 0; i < 2; i++ {
		_, err := e.CreateTab(CreateTabOptions{})
		require.NoError(t, err)
	}
	_, err = e.ActivateTab(3)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 50, 2: 50, 3: 100, 4: 50}, e.Widths())
}

func TestRenameTab(t *testing.T) {
	e := newTestEditor(t, Options{})
	tab, err := e.RenameTab(1, "Boss fights")
	require.NoError(t, err)
	assert.Equal(t, "Boss fights", tab.Title)

	tab, err = e.RenameTab(1, "  ")
	require.NoError(t, err)
	assert.Equal(t, "Tab 1", tab.Title)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	slot := docstore.NewInMemorySlot()
	first := newTestEditor(t, Options{Slot: slot})
	_, err := first.CreateTab(CreateTabOptions{Title: "Keep"})
	require.NoError(t, err)
	_, err = first.CreateTab(CreateTabOptions{Title: "Doomed"})
	require.NoError(t, err)
	_, err = first.AddCard(cardWithName(2, "Goblin"))
	require.NoError(t, err)
	_, err = first.AddCard(cardWithName(3, "Bat"))
	require.NoError(t, err)
	_, err = first.RemoveTab(3, ModeSoft)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestEditor(t, Options{Slot: slot})
	tabs := second.ListTabs(ListFilter{})
	assert.Equal(t, []int{1, 2}, tabIDs(tabs))
	assert.Equal(t, 1, activeCount(tabs))

	cards, err := second.ListCards(0)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Goblin", cards[0].Fields["name"].Field.Txt)
}

func TestParseRemoveMode(t *testing.T) {
	mode, err := ParseRemoveMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSoft, mode)
	mode, err = ParseRemoveMode("Others")
	require.NoError(t, err)
	assert.Equal(t, ModeOthers, mode)
	_, err = ParseRemoveMode("shred")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
