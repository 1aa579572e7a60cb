package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: CycleStarted, RunID: "r1"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, CycleStarted, e.Type)
		assert.Equal(t, "r1", e.RunID)
		assert.False(t, e.Time.IsZero())
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	assert.Equal(t, "a", (<-ch).Type)
	assert.EqualValues(t, 1, b.Dropped())
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, open := <-ch
	require.False(t, open)
	b.Publish(Event{Type: "after"})
	assert.Zero(t, b.Dropped())
}
