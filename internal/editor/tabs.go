package editor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/agentworkforce/cardbuilder/internal/softdelete"
)

// RemoveMode selects how RemoveTab and RemoveCard treat their target.
type RemoveMode string

const (
	ModeSoft    RemoveMode = "soft"
	ModeRestore RemoveMode = "restore"
	ModeRemove  RemoveMode = "remove"
	ModeEmpty   RemoveMode = "empty"
	ModeOthers  RemoveMode = "others"
	ModeAll     RemoveMode = "all"
)

func ParseRemoveMode(raw string) (RemoveMode, error) {
	switch mode := RemoveMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeSoft, ModeRestore, ModeRemove, ModeEmpty, ModeOthers, ModeAll:
		return mode, nil
	case "":
		return ModeSoft, nil
	default:
		return "", fmt.Errorf("%w: remove mode %q", ErrInvalidInput, raw)
	}
}

func (m RemoveMode) bulk() bool {
	return m == ModeEmpty || m == ModeOthers || m == ModeAll
}

// Layout drives width clipping of tab handles.
type Layout struct {
	TabWidth       float64
	AvailableWidth float64
}

const (
	defaultTabWidth       = 160
	defaultAvailableWidth = 1200
)

type CreateTabOptions struct {
	// Record seeds title and styles. Its id is never reused.
	Record      docstore.Value
	Title       string
	Styles      map[string]string
	InsertAfter int
	Activate    bool
}

// ListFilter narrows ListTabs. Populated drops tabs that own cards,
// SoftDeleted drops flagged tabs.
type ListFilter struct {
	Populated   bool
	SoftDeleted bool
	Exclude     []int
}

// tabManager owns the tab identity space and the ordered handle list. Its
// methods expect the editor lock to be held.
type tabManager struct {
	e      *Editor
	store  *docstore.IdentityStore
	order  []int
	layout Layout
	widths map[int]float64
}

func tabKey(id int) string {
	return fmt.Sprintf("tab:%d", id)
}

func (m *tabManager) exists(id int) bool {
	return m.store.Record(id).IsObject()
}

func (m *tabManager) live(id int) bool {
	record := m.store.Record(id)
	return record.IsObject() && !record.Field("softDeleted").Truthy()
}

func (m *tabManager) flagged(id int) bool {
	return m.store.Record(id).Field("softDeleted").Truthy()
}

func (m *tabManager) get(id int) (Tab, error) {
	record := m.store.Record(id)
	if !record.IsObject() {
		return Tab{}, fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	return tabFromValue(record), nil
}

// activeID returns the active tab, or 0 when the collection is empty.
func (m *tabManager) activeID() int {
	for _, id := range m.order {
		if m.store.Record(id).Field("active").Truthy() {
			return id
		}
	}
	return 0
}

func (m *tabManager) blank(id int) docstore.Value {
	return docstore.Object(map[string]docstore.Value{
		"title":  docstore.String(m.e.defaults.DefaultTitle(id)),
		"active": docstore.Bool(false),
		"styles": docstore.NewObject(),
	})
}

func (m *tabManager) create(opts CreateTabOptions) (Tab, error) {
	record := m.store.Blank()
	id, _ := record.Field(tabIDField).IntValue()

	title := strings.TrimSpace(opts.Title)
	if seeded, ok := opts.Record.Field("title").Str(); ok && title == "" {
		title = strings.TrimSpace(seeded)
	}
	if m.e.defaults.IsDefaultTitle(title) {
		title = m.e.defaults.DefaultTitle(id)
	}
	record.With("title", docstore.String(title))

	styles := docstore.NewObject()
	seed := opts.Record.Field("styles")
	for _, prop := range seed.FieldNames() {
		if m.e.defaults.HasStyle(prop) && seed.Field(prop).Kind() == docstore.KindString {
			styles.With(prop, seed.Field(prop))
		}
	}
	for prop, value := range opts.Styles {
		if !m.e.defaults.HasStyle(prop) {
			return Tab{}, fmt.Errorf("%w: style property %q", ErrInvalidInput, prop)
		}
		styles.With(prop, docstore.String(value))
	}
	record.With("styles", styles)

	if err := m.store.Put(id, record); err != nil {
		return Tab{}, err
	}
	m.insertHandle(id, opts.InsertAfter)
	m.e.log.Debug().Int("tid", id).Str("title", title).Msg("tab created")

	if opts.Activate || m.activeID() == 0 {
		if err := m.activate(id); err != nil {
			return Tab{}, err
		}
	} else {
		m.recomputeWidths()
	}
	m.e.publish(events.Event{Type: events.TabsChanged, TabID: id, TabIDs: m.handles()})
	return m.get(id)
}

func (m *tabManager) insertHandle(id, after int) {
	for i, existing := range m.order {
		if existing == after && after != 0 {
			m.order = append(m.order[:i+1], append([]int{id}, m.order[i+1:]...)...)
			return
		}
	}
	m.order = append(m.order, id)
}

func (m *tabManager) dropHandle(id int) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *tabManager) handles() []int {
	return append([]int(nil), m.order...)
}

func (m *tabManager) activate(id int) error {
	if !m.exists(id) {
		return fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	if m.flagged(id) {
		return fmt.Errorf("%w: tab %d is awaiting deletion", ErrInvalidInput, id)
	}
	for _, other := range m.order {
		if other != id && m.store.Record(other).Field("active").Truthy() {
			if err := m.store.Set(docstore.PathOf(other, "active"), docstore.Bool(false)); err != nil {
				return err
			}
		}
	}
	if err := m.store.Set(docstore.PathOf(id, "active"), docstore.Bool(true)); err != nil {
		return err
	}
	m.recomputeWidths()
	m.e.publish(events.Event{Type: events.TabActivated, TabID: id, Styles: m.styles(id)})
	return nil
}

// styles merges the tab's overrides over the shipped defaults.
func (m *tabManager) styles(id int) map[string]string {
	merged := m.e.defaults.Styles()
	overrides := m.store.Record(id).Field("styles")
	for _, prop := range overrides.FieldNames() {
		merged[prop] = overrides.Field(prop).Text()
	}
	return merged
}

// recomputeWidths keeps the active handle at its natural width and shares the
// remaining space between the other live handles when they do not all fit.
// The share is (available - natural) / nonActive rather than a plain
// available / nonActive, so the active handle's width is not counted twice.
func (m *tabManager) recomputeWidths() {
	natural := m.layout.TabWidth
	available := m.layout.AvailableWidth
	active := m.activeID()

	visible := make([]int, 0, len(m.order))
	for _, id := range m.order {
		if m.live(id) {
			visible = append(visible, id)
		}
	}
	m.widths = make(map[int]float64, len(visible))
	nonActive := len(visible)
	if active != 0 && m.live(active) {
		nonActive--
	}
	clipped := natural
	if float64(len(visible))*natural > available && nonActive > 0 {
		share := (available - natural) / float64(nonActive)
		if share < 0 {
			share = 0
		}
		if share < clipped {
			clipped = share
		}
	}
	for _, id := range visible {
		if id == active {
			m.widths[id] = natural
			continue
		}
		m.widths[id] = clipped
	}
}

func (m *tabManager) remove(id int, mode RemoveMode) (*softdelete.Pending, error) {
	switch mode {
	case ModeSoft:
		return m.softRemove(id)
	case ModeRestore:
		return nil, m.restore(id)
	case ModeRemove:
		return nil, m.hardRemove(id)
	case ModeEmpty, ModeOthers, ModeAll:
		return nil, m.bulkRemove(id, mode)
	default:
		return nil, fmt.Errorf("%w: remove mode %q", ErrInvalidInput, mode)
	}
}

func (m *tabManager) softRemove(id int) (*softdelete.Pending, error) {
	if !m.exists(id) {
		return nil, fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	wasActive := m.store.Record(id).Field("active").Truthy()
	if err := m.store.Set(docstore.PathOf(id, "softDeleted"), docstore.Bool(true)); err != nil {
		return nil, err
	}
	if wasActive {
		if err := m.store.Set(docstore.PathOf(id, "active"), docstore.Bool(false)); err != nil {
			return nil, err
		}
		if err := m.activateNeighbour(id); err != nil {
			return nil, err
		}
	} else {
		m.recomputeWidths()
	}
	pending := m.e.undo.Begin(tabKey(id), m.e.resolveTab(id))
	m.e.publish(events.Event{Type: events.TabsChanged, TabID: id, TabIDs: m.handles(), UndoKey: tabKey(id)})
	return pending, nil
}

// activateNeighbour moves activation away from id: the next live handle,
// then the previous one, then a fresh tab.
func (m *tabManager) activateNeighbour(id int) error {
	pos := -1
	for i, existing := range m.order {
		if existing == id {
			pos = i
			break
		}
	}
	for i := pos + 1; i < len(m.order); i++ {
		if m.live(m.order[i]) {
			return m.activate(m.order[i])
		}
	}
	for i := pos - 1; i >= 0; i-- {
		if m.live(m.order[i]) {
			return m.activate(m.order[i])
		}
	}
	_, err := m.create(CreateTabOptions{Activate: true})
	return err
}

func (m *tabManager) restore(id int) error {
	if !m.exists(id) {
		return fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	if err := m.store.Unset(docstore.PathOf(id, "softDeleted")); err != nil {
		return err
	}
	m.e.undo.Settle(tabKey(id), softdelete.Restored)
	m.recomputeWidths()
	m.e.publish(events.Event{Type: events.TabsChanged, TabID: id, TabIDs: m.handles()})
	return nil
}

func (m *tabManager) hardRemove(id int) error {
	if !m.exists(id) {
		return fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	m.e.undo.Settle(tabKey(id), softdelete.Removed)
	wasActive := m.store.Record(id).Field("active").Truthy()
	if _, err := m.e.cards.purge(id); err != nil {
		return err
	}
	if err := m.store.Remove(id); err != nil {
		return err
	}
	m.dropHandle(id)
	m.e.log.Debug().Int("tid", id).Msg("tab removed")

	if err := m.ensureActive(wasActive); err != nil {
		return err
	}
	m.e.publish(events.Event{Type: events.TabsChanged, TabID: id, TabIDs: m.handles()})
	return nil
}

// ensureActive restores the single-active invariant after a structural change.
func (m *tabManager) ensureActive(force bool) error {
	if len(m.order) == 0 {
		_, err := m.create(CreateTabOptions{Activate: true})
		return err
	}
	active := m.activeID()
	if active != 0 && !force {
		m.recomputeWidths()
		return nil
	}
	for _, id := range m.order {
		if m.live(id) {
			return m.activate(id)
		}
	}
	_, err := m.create(CreateTabOptions{Activate: true})
	return err
}

// bulkRemove hard-removes a computed target set. Pending soft deletes are
// settled first so none of them fires against the new state.
func (m *tabManager) bulkRemove(keep int, mode RemoveMode) error {
	if err := m.e.flushPending(); err != nil {
		return err
	}

	var targets []int
	switch mode {
	case ModeEmpty:
		for _, id := range m.order {
			if !m.e.cards.owns(id) {
				targets = append(targets, id)
			}
		}
	case ModeOthers:
		if keep == 0 {
			keep = m.activeID()
		}
		if !m.exists(keep) {
			return fmt.Errorf("%w: tab %d", ErrNotFound, keep)
		}
		for _, id := range m.order {
			if id != keep {
				targets = append(targets, id)
			}
		}
	case ModeAll:
		targets = m.handles()
	}
	for _, id := range targets {
		if err := m.hardRemove(id); err != nil {
			return err
		}
	}
	if mode == ModeOthers && m.activeID() != keep {
		return m.activate(keep)
	}
	return nil
}

func (m *tabManager) list(filter ListFilter) []Tab {
	excluded := make(map[int]bool, len(filter.Exclude))
	for _, id := range filter.Exclude {
		excluded[id] = true
	}
	out := make([]Tab, 0, len(m.order))
	for _, id := range m.order {
		if excluded[id] {
			continue
		}
		record := m.store.Record(id)
		if filter.SoftDeleted && record.Field("softDeleted").Truthy() {
			continue
		}
		if filter.Populated && m.e.cards.owns(id) {
			continue
		}
		out = append(out, tabFromValue(record))
	}
	return out
}

func (m *tabManager) rename(id int, title string) (Tab, error) {
	if !m.exists(id) {
		return Tab{}, fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = m.e.defaults.DefaultTitle(id)
	}
	if err := m.store.Set(docstore.PathOf(id, "title"), docstore.String(title)); err != nil {
		return Tab{}, err
	}
	m.e.publish(events.Event{Type: events.TabsChanged, TabID: id, TabIDs: m.handles()})
	return m.get(id)
}

// setStyles applies overrides in a single write. An empty value resets the
// property to its default.
func (m *tabManager) setStyles(id int, updates map[string]string) (map[string]string, error) {
	record := m.store.GetClone(docstore.Path{docstore.Key(id)})
	if !record.IsObject() {
		return nil, fmt.Errorf("%w: tab %d", ErrNotFound, id)
	}
	for prop := range updates {
		if !m.e.defaults.HasStyle(prop) {
			return nil, fmt.Errorf("%w: style property %q", ErrInvalidInput, prop)
		}
	}
	styles := record.Field("styles")
	if !styles.IsObject() {
		styles = docstore.NewObject()
	}
	for prop, value := range updates {
		value = strings.TrimSpace(value)
		if value == "" {
			styles.Without(prop)
			continue
		}
		styles.With(prop, docstore.String(value))
	}
	record.With("styles", styles)
	if err := m.store.Put(id, record); err != nil {
		return nil, err
	}
	merged := m.styles(id)
	m.e.publish(events.Event{Type: events.StylesChanged, TabID: id, Styles: merged})
	return merged, nil
}

func (m *tabManager) applyPreset(id int, name string) (map[string]string, error) {
	preset, ok := m.e.defaults.Preset(name)
	if !ok {
		return nil, fmt.Errorf("%w: preset %q", ErrNotFound, name)
	}
	return m.setStyles(id, preset)
}

// bootstrap rebuilds the handle list from the persisted store. Tabs still
// flagged from a previous run are removed for good.
func (m *tabManager) bootstrap() error {
	ids, err := m.store.IDs()
	if err != nil {
		return err
	}
	var kept []int
	for _, id := range ids {
		if !m.flagged(id) {
			kept = append(kept, id)
			continue
		}
		if _, err := m.e.cards.purge(id); err != nil {
			return err
		}
		if err := m.store.Remove(id); err != nil {
			return err
		}
		m.e.log.Info().Int("tid", id).Msg("dropped tab left soft-deleted by a previous session")
	}
	sort.Ints(kept)
	m.order = kept
	if len(m.order) == 0 {
		_, err := m.create(CreateTabOptions{Activate: true})
		return err
	}
	active := 0
	for _, id := range m.order {
		if !m.store.Record(id).Field("active").Truthy() {
			continue
		}
		if active == 0 {
			active = id
		}
	}
	if active == 0 {
		active = m.order[0]
	}
	return m.activate(active)
}
