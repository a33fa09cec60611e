package api

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(block uint16) PendingCommand {
	frame := []byte{0x01, 0x03, byte(block >> 8), byte(block), 0x00, 0x01}
	return PendingCommand{BlockID: block, Frame: frame, FrameHex: fmt.Sprintf("%x", frame), QueuedAt: time.Now()}
}

func TestCommandQueueOrder(t *testing.T) {
	cqm := NewCommandQueueManager(zerolog.Nop())

	require.NoError(t, cqm.QueueCommand("dev-1", newPending(19300)))
	require.NoError(t, cqm.QueueCommand("dev-1", newPending(12002)))
	require.NoError(t, cqm.QueueCommand("dev-2", newPending(100)))
	assert.Equal(t, 2, cqm.GetQueueCount())

	pending := cqm.Drain("dev-1")
	require.Len(t, pending, 2)
	assert.Equal(t, uint16(19300), pending[0].BlockID)
	assert.Equal(t, uint16(12002), pending[1].BlockID)

	assert.Empty(t, cqm.Drain("dev-1"))
	assert.NotNil(t, cqm.Drain("unknown"))
}

func TestCommandQueueFull(t *testing.T) {
	cqm := NewCommandQueueManager(zerolog.Nop())

	for i := 0; i < queueCapacity; i++ {
		require.NoError(t, cqm.QueueCommand("dev-1", newPending(12002)))
	}
	err := cqm.QueueCommand("dev-1", newPending(12002))
	assert.ErrorContains(t, err, "queue is full")

	assert.Len(t, cqm.Drain("dev-1"), queueCapacity)
	assert.NoError(t, cqm.QueueCommand("dev-1", newPending(12002)))
}

func TestCommandQueueRemove(t *testing.T) {
	cqm := NewCommandQueueManager(zerolog.Nop())

	require.NoError(t, cqm.QueueCommand("dev-1", newPending(12002)))
	cqm.RemoveQueue("dev-1")
	cqm.RemoveQueue("dev-1")

	assert.Equal(t, 0, cqm.GetQueueCount())
	assert.Empty(t, cqm.Drain("dev-1"))
}

func TestCommandQueueConcurrent(t *testing.T) {
	cqm := NewCommandQueueManager(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_ = cqm.QueueCommand("dev-1", newPending(19300))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, cqm.Drain("dev-1"), 50)
}
