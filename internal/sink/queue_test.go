package sink_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/sink"
)

func makeSample(sid int) event.Sample {
	return event.Sample{
		Timestamp: time.Now().UTC(),
		Events: []event.DataEvent{
			event.New(uuid.Nil, sid, "test/topic", event.NumberValue(float64(sid)), "V"),
		},
	}
}

func TestQueueFIFO(t *testing.T) {
	q := sink.NewQueue()

	for i := 0; i < 10; i++ {
		q.Put(makeSample(i))
	}
	assert.Equal(t, 10, q.Len())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		item, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, item.Events[0].SID, "items must come out in insertion order")
		q.Done()
	}
	assert.Zero(t, q.Len())
}

func TestQueuePutNeverBlocks(t *testing.T) {
	q := sink.NewQueue()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// No consumer attached, every Put must still return.
		for i := 0; i < 10000; i++ {
			q.Put(makeSample(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Put blocked without a consumer")
	}
	assert.Equal(t, 10000, q.Len())
}

func TestQueueGetCancelled(t *testing.T) {
	q := sink.NewQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueJoin(t *testing.T) {
	q := sink.NewQueue()
	q.Put(makeSample(0))
	q.Put(makeSample(1))

	// Unacknowledged items keep Join waiting.
	assert.False(t, q.Join(50*time.Millisecond))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := q.Get(ctx)
		require.NoError(t, err)
		q.Done()
	}

	assert.True(t, q.Join(time.Second))
}

func TestQueueJoinWaitsForDone(t *testing.T) {
	q := sink.NewQueue()
	q.Put(makeSample(0))

	go func() {
		if _, err := q.Get(context.Background()); err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
		q.Done()
	}()

	assert.True(t, q.Join(time.Second), "Join must return once the consumer acknowledges")
}

func TestQueueConcurrentConsumers(t *testing.T) {
	q := sink.NewQueue()

	const total = 200
	for i := 0; i < total; i++ {
		q.Put(makeSample(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[int]int)

	var wg sync.WaitGroup
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Get(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[item.Events[0].SID]++
				mu.Unlock()
				q.Done()
			}
		}()
	}

	require.True(t, q.Join(5*time.Second), "both consumers must drain the queue")
	cancel()
	wg.Wait()

	require.Len(t, seen, total)
	for sid, count := range seen {
		assert.Equal(t, 1, count, "item %d delivered more than once", sid)
	}
}

func TestFanoutPublishesToAllQueues(t *testing.T) {
	first := sink.NewQueue()
	second := sink.NewQueue()
	fanout := sink.NewFanout(first, second)

	for i := 0; i < 3; i++ {
		fanout.Publish(makeSample(i))
	}

	ctx := context.Background()
	for _, q := range []*sink.Queue{first, second} {
		for i := 0; i < 3; i++ {
			item, err := q.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, i, item.Events[0].SID, "each queue must see publish order")
			q.Done()
		}
	}
}
