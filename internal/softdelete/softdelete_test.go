package softdelete

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTimerExpiryRemoves(t *testing.T) {
	c := New(Options{Window: 20 * time.Millisecond, Logger: zerolog.Nop()})
	var got atomic.Int32
	p := c.Begin("card:3001", func(s State) { got.Store(int32(s)) })

	state, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, Removed, state)
	assert.Equal(t, int32(Removed), got.Load())
	assert.False(t, c.IsPending("card:3001"))
}

func TestRestoreBeforeTimeout(t *testing.T) {
	c := New(Options{Window: time.Minute})
	var calls atomic.Int32
	p := c.Begin("tab:1", func(s State) {
		calls.Add(1)
		assert.Equal(t, Restored, s)
	})

	require.True(t, c.Restore("tab:1"))
	assert.False(t, c.Restore("tab:1"))
	assert.False(t, c.Commit("tab:1"))

	state, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, Restored, state)
	c.Drain()
	assert.Equal(t, int32(1), calls.Load())
}

func TestCommitAheadOfTimer(t *testing.T) {
	c := New(Options{Window: time.Minute})
	p := c.Begin("card:3002", nil)
	require.True(t, c.Commit("card:3002"))

	state, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, Removed, state)
}

func TestCancelDismissesWithoutCallbacks(t *testing.T) {
	bus := events.NewBus(0)
	sub := bus.Subscribe(8)
	defer sub.Close()

	c := New(Options{Window: 20 * time.Millisecond, Publisher: bus})
	var calls atomic.Int32
	a := c.Begin("tab:1", func(State) { calls.Add(1) })
	b := c.Begin("tab:2", func(State) { calls.Add(1) })
	c.Cancel()

	_, err := a.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrDismissed)
	_, err = b.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrDismissed)

	time.Sleep(50 * time.Millisecond)
	c.Drain()
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, c.Keys())

	var dismissed int
	for len(sub.C()) > 0 {
		if ev := <-sub.C(); ev.Type == events.UndoDismissed {
			dismissed++
		}
	}
	assert.Equal(t, 2, dismissed)
}

func TestBeginReplacesPendingKey(t *testing.T) {
	c := New(Options{Window: time.Minute})
	first := c.Begin("card:3001", nil)
	second := c.Begin("card:3001", nil)

	_, err := first.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrDismissed)
	assert.True(t, c.IsPending("card:3001"))

	require.True(t, c.Settle("card:3001", Restored))
	state, err := second.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, Restored, state)
}

func TestSettleSkipsCallback(t *testing.T) {
	c := New(Options{Window: time.Minute})
	var calls atomic.Int32
	p := c.Begin("tab:4", func(State) { calls.Add(1) })

	require.True(t, c.Settle("tab:4", Removed))
	assert.False(t, c.Settle("tab:4", Removed))
	state, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, Removed, state)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWaitHonoursContext(t *testing.T) {
	c := New(Options{Window: time.Minute})
	p := c.Begin("tab:9", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	c.Cancel()
}

func TestDefaultWindow(t *testing.T) {
	assert.Equal(t, 10*time.Second, New(Options{}).Window())
}
