// Package softdelete times the undo window that sits between a delete
// request and the record's removal.
package softdelete

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/rs/zerolog"
)

const DefaultWindow = 10 * time.Second

var ErrDismissed = errors.New("undo affordance dismissed")

// State of one pending deletion.
type State int

const (
	Flagged State = iota
	Restored
	Removed
	Dismissed
)

func (s State) String() string {
	switch s {
	case Flagged:
		return "flagged"
	case Restored:
		return "restored"
	case Removed:
		return "removed"
	case Dismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// ResolveFunc receives the final disposition, Restored or Removed. It runs on
// its own goroutine, once.
type ResolveFunc func(State)

// Pending is the future handed back by Begin.
type Pending struct {
	key      string
	state    State
	timer    *time.Timer
	onResult ResolveFunc
	done     chan struct{}
}

func (p *Pending) Key() string { return p.key }

// Done closes once the pending delete has reached a final state and its
// callback has returned.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the disposition is known. Dismissed entries return
// ErrDismissed.
func (p *Pending) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return Flagged, ctx.Err()
	}
	if p.state == Dismissed {
		return Dismissed, ErrDismissed
	}
	return p.state, nil
}

type Options struct {
	Window    time.Duration
	Logger    zerolog.Logger
	Publisher events.Publisher
}

// Coordinator tracks at most one pending deletion per key.
type Coordinator struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*Pending
	log     zerolog.Logger
	pub     events.Publisher
	wg      sync.WaitGroup
}

func New(opts Options) *Coordinator {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coordinator{
		window:  window,
		pending: map[string]*Pending{},
		log:     opts.Logger,
		pub:     opts.Publisher,
	}
}

func (c *Coordinator) Window() time.Duration { return c.window }

// Begin flags key and starts its undo timer. A key that is already pending is
// dismissed first.
func (c *Coordinator) Begin(key string, onResolve ResolveFunc) *Pending {
	p := &Pending{key: key, state: Flagged, onResult: onResolve, done: make(chan struct{})}

	c.mu.Lock()
	prev, replaced := c.pending[key]
	if replaced {
		c.dismissLocked(prev)
	}
	c.pending[key] = p
	p.timer = time.AfterFunc(c.window, func() { c.resolve(p, Removed) })
	c.mu.Unlock()

	if replaced {
		c.publish(events.Event{Type: events.UndoDismissed, UndoKey: key})
	}
	c.log.Debug().Str("key", key).Dur("window", c.window).Msg("undo offered")
	c.publish(events.Event{Type: events.UndoOffered, UndoKey: key})
	return p
}

// Restore resolves key as Restored. It reports false when nothing was pending.
func (c *Coordinator) Restore(key string) bool {
	return c.resolveKey(key, Restored)
}

// Commit resolves key as Removed ahead of the timer.
func (c *Coordinator) Commit(key string) bool {
	return c.resolveKey(key, Removed)
}

// Settle marks key resolved without running its callback. Callers use it when
// they have already applied the outcome themselves.
func (c *Coordinator) Settle(key string, state State) bool {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || p.state != Flagged {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, key)
	p.timer.Stop()
	p.state = state
	p.onResult = nil
	c.mu.Unlock()
	close(p.done)
	return true
}

func (c *Coordinator) IsPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Keys lists the keys currently inside their undo window.
func (c *Coordinator) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.pending))
	for key := range c.pending {
		keys = append(keys, key)
	}
	return keys
}

// Cancel dismisses every pending affordance without resolving it.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	dismissed := make([]string, 0, len(c.pending))
	for key, p := range c.pending {
		c.dismissLocked(p)
		dismissed = append(dismissed, key)
	}
	c.mu.Unlock()
	for _, key := range dismissed {
		c.publish(events.Event{Type: events.UndoDismissed, UndoKey: key})
	}
}

// Drain waits for running callbacks. Used on shutdown and in tests.
func (c *Coordinator) Drain() {
	c.wg.Wait()
}

func (c *Coordinator) resolveKey(key string, state State) bool {
	c.mu.Lock()
	p, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.resolve(p, state)
}

func (c *Coordinator) resolve(p *Pending, state State) bool {
	c.mu.Lock()
	if p.state != Flagged || c.pending[p.key] != p {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, p.key)
	p.timer.Stop()
	p.state = state
	callback := p.onResult
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug().Str("key", p.key).Stringer("state", state).Msg("undo resolved")
	go func() {
		defer c.wg.Done()
		defer close(p.done)
		if callback != nil {
			callback(state)
		}
	}()
	return true
}

func (c *Coordinator) dismissLocked(p *Pending) {
	if p.state != Flagged {
		return
	}
	delete(c.pending, p.key)
	p.timer.Stop()
	p.state = Dismissed
	close(p.done)
}

func (c *Coordinator) publish(event events.Event) {
	if c.pub != nil {
		c.pub.Publish(event)
	}
}
