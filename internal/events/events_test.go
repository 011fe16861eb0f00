package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFillsIdentity(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe(4)
	defer sub.Close()

	published := bus.Publish(Event{Type: CardAdded, CardID: 3001, TabID: 1})
	require.NotEmpty(t, published.EventID)
	require.NotEmpty(t, published.Timestamp)

	got := <-sub.C()
	assert.Equal(t, published, got)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe(1)
	defer sub.Close()

	bus.Publish(Event{Type: TabsChanged})
	bus.Publish(Event{Type: TabsChanged})
	bus.Publish(Event{Type: TabsChanged})

	assert.Equal(t, 2, sub.Dropped())
	assert.Len(t, sub.C(), 1)
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe(1)
	sub.Close()
	sub.Close()

	bus.Publish(Event{Type: TabsChanged})
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestRecentPagesWithCursor(t *testing.T) {
	bus := NewBus(3)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, bus.Publish(Event{Type: CardAdded, CardID: 3001 + i}).EventID)
	}

	first := bus.Recent("", 2)
	require.Len(t, first.Events, 2)
	assert.Equal(t, ids[2], first.Events[0].EventID)
	require.NotNil(t, first.NextCursor)

	rest := bus.Recent(*first.NextCursor, 10)
	require.Len(t, rest.Events, 1)
	assert.Equal(t, ids[4], rest.Events[0].EventID)
	assert.Nil(t, rest.NextCursor)

	assert.Empty(t, bus.Recent(ids[4], 10).Events)
}
