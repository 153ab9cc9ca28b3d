package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(ir.ChangeEvent{ID: id}))
	}

	for _, want := range []string{"A", "B", "C"} {
		ev, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, ev.ID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Wait_SignalsEnqueue(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(ir.ChangeEvent{ID: "late"})
	}()

	select {
	case <-q.Wait():
		ev, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, "late", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("wait was not signalled")
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	require.True(t, q.Enqueue(ir.ChangeEvent{ID: "before-close"}))
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(ir.ChangeEvent{ID: "after-close"}))

	// Queued events still drain after close.
	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "before-close", ev.ID)

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue should wake waiters")
	}
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(ir.ChangeEvent{ID: "1"})
	q.Enqueue(ir.ChangeEvent{ID: "2"})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(ir.ChangeEvent{EntityID: int64(p*perProducer + i + 1)})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for {
		ev, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[ev.EntityID] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
