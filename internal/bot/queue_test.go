package bot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balanceJob(user string) job {
	return job{event: BalanceQuery{UserID: user}}
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(balanceJob("alice"))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, BalanceQuery{UserID: "alice"}, got.event)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, u := range []string{"A", "B", "C"} {
		q.Enqueue(balanceJob(u))
	}

	for _, want := range []string{"A", "B", "C"} {
		j, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, j.event.Actor())
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_WaitSignals(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(balanceJob("alice"))
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait was never signalled")
	}
	_, ok := q.TryDequeue()
	assert.True(t, ok)
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(balanceJob("alice"))
	q.Close()
	q.Close()

	select {
	case _, open := <-q.Wait():
		assert.False(t, open, "signal channel closed")
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiters")
	}

	assert.False(t, q.Enqueue(balanceJob("bob")), "enqueue after close should return false")
	_, ok := q.TryDequeue()
	assert.True(t, ok, "queued jobs survive close")
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(balanceJob("1"))
	q.Enqueue(balanceJob("2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(balanceJob("u"))
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, producers*perProducer, received)
}
