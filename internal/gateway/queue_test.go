// ABOUTME: Tests for the outbound command queue
// ABOUTME: Covers FIFO order, front insertion, blocking Next and close semantics

package gateway

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleet/internal/protocol"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Push(protocol.UpdatePresence{Status: "online"}))
	require.NoError(t, q.Push(protocol.UpdatePresence{Status: "idle"}))
	require.NoError(t, q.PushFront(protocol.Identify{Token: "t"}))

	assert.Equal(t, 3, q.Len())

	first, err := q.Next()
	require.NoError(t, err)
	assert.IsType(t, protocol.Identify{}, first)

	second, err := q.Next()
	require.NoError(t, err)
	assert.Equal(t, "online", second.(protocol.UpdatePresence).Status)

	third, err := q.Next()
	require.NoError(t, err)
	assert.Equal(t, "idle", third.(protocol.UpdatePresence).Status)
}

func TestQueueNextBlocksUntilPush(t *testing.T) {
	q := NewQueue()

	got := make(chan protocol.Command, 1)
	go func() {
		cmd, err := q.Next()
		if err == nil {
			got <- cmd
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(protocol.Heartbeat{}))
	select {
	case cmd := <-got:
		assert.IsType(t, protocol.Heartbeat{}, cmd)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up after Push")
	}
}

func TestQueueClose(t *testing.T) {
	t.Run("close wakes a blocked consumer", func(t *testing.T) {
		q := NewQueue()
		errCh := make(chan error, 1)
		go func() {
			_, err := q.Next()
			errCh <- err
		}()

		time.Sleep(10 * time.Millisecond)
		q.Close()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrQueueClosed)
		case <-time.After(time.Second):
			t.Fatal("consumer still blocked after Close")
		}
	})

	t.Run("pending items are dropped", func(t *testing.T) {
		q := NewQueue()
		require.NoError(t, q.Push(protocol.Heartbeat{}))
		require.NoError(t, q.Push(protocol.Heartbeat{}))

		assert.Equal(t, 2, q.Close())
		assert.Equal(t, 0, q.Len())

		_, err := q.Next()
		assert.ErrorIs(t, err, ErrQueueClosed)
	})

	t.Run("push after close fails instead of blocking", func(t *testing.T) {
		q := NewQueue()
		q.Close()

		assert.True(t, errors.Is(q.Push(protocol.Heartbeat{}), ErrQueueClosed))
		assert.True(t, errors.Is(q.PushFront(protocol.Identify{}), ErrQueueClosed))
		assert.True(t, q.Closed())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		q := NewQueue()
		q.Close()
		assert.Equal(t, 0, q.Close())
	})
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	const producers, each = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				seq := int64(p*each + i)
				_ = q.Push(protocol.Heartbeat{LastSequence: &seq})
			}
		}(p)
	}

	// Per-producer order must survive interleaving.
	last := make(map[int]int64)
	for n := 0; n < producers*each; n++ {
		cmd, err := q.Next()
		require.NoError(t, err)
		seq := *cmd.(protocol.Heartbeat).LastSequence
		p := int(seq / each)
		if prev, ok := last[p]; ok {
			assert.Greater(t, seq, prev)
		}
		last[p] = seq
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
}
