package goindi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnboundedQueuePushPopOrder(t *testing.T) {
	q := newUnboundedQueue[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	ctx := context.Background()
	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop(ctx)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestUnboundedQueuePopBlocksUntilPush(t *testing.T) {
	q := newUnboundedQueue[string]()

	result := make(chan string, 1)
	go func() {
		v, ok := q.Pop(context.Background())
		if ok {
			result <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-result:
		require.Equal(t, "hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestUnboundedQueuePopReturnsFalseOnContextCancel(t *testing.T) {
	q := newUnboundedQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not observe context cancellation")
	}
}

func TestUnboundedQueueCloseDrainsRemainingThenStops(t *testing.T) {
	q := newUnboundedQueue[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	v, ok := q.Pop(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = q.Pop(context.Background())
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok = q.Pop(context.Background())
	require.False(t, ok, "queue must report closed once drained")

	// Pushes after Close are silently dropped.
	q.Push(99)
	_, ok = q.TryPop()
	require.False(t, ok)
}

func TestUnboundedQueueTryPopNonBlocking(t *testing.T) {
	q := newUnboundedQueue[int]()
	_, ok := q.TryPop()
	require.False(t, ok)

	q.Push(7)
	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 7, v)
}
