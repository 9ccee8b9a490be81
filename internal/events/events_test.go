package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SeqMonotonicallyIncreases(t *testing.T) {
	b := NewBus(nil)
	sub, err := b.Subscribe(8)
	require.NoError(t, err)

	require.NoError(t, b.Publish(Event{Category: CategorySession, Variant: VariantSessionStarted}))
	require.NoError(t, b.Publish(Event{Category: CategorySession, Variant: VariantSessionCompleted}))

	e1 := <-sub.C()
	e2 := <-sub.C()
	assert.Less(t, e1.Seq, e2.Seq)
}

func TestBus_PublishRequiresCategory(t *testing.T) {
	b := NewBus(nil)
	err := b.Publish(Event{Variant: VariantProgress})
	assert.Error(t, err)
}

func TestBus_DropsOnFullSubscriberChannel(t *testing.T) {
	b := NewBus(nil)
	sub, err := b.Subscribe(1)
	require.NoError(t, err)

	require.NoError(t, b.Publish(Event{Category: CategoryProgress, Variant: VariantProgress}))
	require.NoError(t, b.Publish(Event{Category: CategoryProgress, Variant: VariantProgress})) // dropped, buffer full

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(2), stats.Published)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil)
	sub, err := b.Subscribe(4)
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(sub))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed after unsubscribe")
}
