package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kinds emitted by the editor.
const (
	TabActivated      = "tab.activated"
	TabsChanged       = "tabs.changed"
	StylesChanged     = "styles.changed"
	CardAdded         = "card.added"
	CardRemoved       = "card.removed"
	CardUpdated       = "card.updated"
	ClipboardMarked   = "clipboard.marked"
	PasteAvailability = "paste.availability"
	UndoOffered       = "undo.offered"
	UndoDismissed     = "undo.dismissed"
	ImportStarted     = "import.started"
	ImportFinished    = "import.finished"
	ImportFailed      = "import.failed"
)

const (
	defaultHistory = 256
	defaultBuffer  = 64
)

type Event struct {
	EventID        string            `json:"eventId"`
	Type           string            `json:"type"`
	Timestamp      string            `json:"timestamp"`
	TabID          int               `json:"tabId,omitempty"`
	CardID         int               `json:"cardId,omitempty"`
	TabIDs         []int             `json:"tabIds,omitempty"`
	Styles         map[string]string `json:"styles,omitempty"`
	PasteAvailable *bool             `json:"pasteAvailable,omitempty"`
	ClipboardMode  string            `json:"clipboardMode,omitempty"`
	UndoKey        string            `json:"undoKey,omitempty"`
	Message        string            `json:"message,omitempty"`
}

type Feed struct {
	Events     []Event `json:"events"`
	NextCursor *string `json:"nextCursor"`
}

// Publisher is the narrow side of the bus handed to the editor.
type Publisher interface {
	Publish(event Event) Event
}

// Bus fans events out to subscribers and keeps a bounded history for
// polling clients. Publish never blocks: a subscriber whose buffer is full
// misses the event and its Dropped counter grows.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	history []Event
	limit   int
	now     func() time.Time
}

func NewBus(historyLimit int) *Bus {
	if historyLimit <= 0 {
		historyLimit = defaultHistory
	}
	return &Bus{
		subs:  map[*Subscription]struct{}{},
		limit: historyLimit,
		now:   time.Now,
	}
}

func (b *Bus) Publish(event Event) Event {
	if b == nil {
		return event
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = b.now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, event)
	if len(b.history) > b.limit {
		b.history = append([]Event(nil), b.history[len(b.history)-b.limit:]...)
	}
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
		}
	}
	return event
}

// Subscribe registers a listener. The caller must Close it.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Recent pages through the retained history, oldest first. cursor is the id
// of the last event the caller has seen.
func (b *Bus) Recent(cursor string, limit int) Feed {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	start := 0
	if cursor != "" {
		for i := range b.history {
			if b.history[i].EventID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(b.history) {
		return Feed{Events: []Event{}, NextCursor: nil}
	}
	end := start + limit
	if end > len(b.history) {
		end = len(b.history)
	}
	chunk := append([]Event(nil), b.history[start:end]...)

	var nextCursor *string
	if end < len(b.history) {
		next := b.history[end-1].EventID
		nextCursor = &next
	}
	return Feed{Events: chunk, NextCursor: nextCursor}
}

type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped int
	once    sync.Once
}

func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Dropped() int {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Bool is a helper for the optional flag fields.
func Bool(v bool) *bool {
	return &v
}
