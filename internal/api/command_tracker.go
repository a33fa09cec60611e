package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// queueCapacity bounds the frames waiting for one device.
const queueCapacity = 100

// PendingCommand is a request frame waiting for the device's transport to
// collect it.
type PendingCommand struct {
	BlockID  uint16    `json:"block_id"`
	Frame    []byte    `json:"-"`
	FrameHex string    `json:"frame"`
	QueuedAt time.Time `json:"queued_at"`
}

// CommandQueueManager holds outgoing request frames per device key.
type CommandQueueManager struct {
	queues map[string]chan PendingCommand
	mutex  sync.RWMutex
	logger zerolog.Logger
}

// NewCommandQueueManager creates a new command queue manager.
func NewCommandQueueManager(logger zerolog.Logger) *CommandQueueManager {
	return &CommandQueueManager{
		queues: make(map[string]chan PendingCommand),
		logger: logger.With().Str("component", "command_queue").Logger(),
	}
}

// GetOrCreateQueue gets or creates the command queue of a device.
func (cqm *CommandQueueManager) GetOrCreateQueue(deviceKey string) chan PendingCommand {
	cqm.mutex.Lock()
	defer cqm.mutex.Unlock()

	if queue, exists := cqm.queues[deviceKey]; exists {
		return queue
	}

	queue := make(chan PendingCommand, queueCapacity)
	cqm.queues[deviceKey] = queue

	cqm.logger.Debug().
		Str("device", deviceKey).
		Msg("Created new command queue")

	return queue
}

// QueueCommand queues a frame for a device.
func (cqm *CommandQueueManager) QueueCommand(deviceKey string, cmd PendingCommand) error {
	queue := cqm.GetOrCreateQueue(deviceKey)

	select {
	case queue <- cmd:
		cqm.logger.Debug().
			Str("device", deviceKey).
			Uint16("block", cmd.BlockID).
			Int("command_size", len(cmd.Frame)).
			Msg("Command queued successfully")
		return nil
	default:
		return fmt.Errorf("command queue is full for %s", deviceKey)
	}
}

// Drain removes and returns every frame queued for a device, oldest first.
func (cqm *CommandQueueManager) Drain(deviceKey string) []PendingCommand {
	cqm.mutex.RLock()
	queue, exists := cqm.queues[deviceKey]
	cqm.mutex.RUnlock()

	pending := make([]PendingCommand, 0)
	if !exists {
		return pending
	}
	for {
		select {
		case cmd := <-queue:
			pending = append(pending, cmd)
		default:
			return pending
		}
	}
}

// RemoveQueue drops the queue of a device together with its pending frames.
func (cqm *CommandQueueManager) RemoveQueue(deviceKey string) {
	cqm.mutex.Lock()
	defer cqm.mutex.Unlock()

	if _, exists := cqm.queues[deviceKey]; exists {
		delete(cqm.queues, deviceKey)

		cqm.logger.Debug().
			Str("device", deviceKey).
			Msg("Removed command queue")
	}
}

// GetQueueCount returns the number of command queues.
func (cqm *CommandQueueManager) GetQueueCount() int {
	cqm.mutex.RLock()
	defer cqm.mutex.RUnlock()
	return len(cqm.queues)
}
