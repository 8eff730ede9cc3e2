// Package hub implements the per-task broadcast hub: a subscriber registry
// keyed by task id with JSON fan-out to live connections.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/taskdeck/taskdeck/internal/otel"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// Hub fans events out to subscribers of a task id. A subscriber of task A
// never sees events published for task B. Safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan []byte]struct{}
}

func New() *Hub {
	return &Hub{rooms: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber channel for taskID, creating the room
// if absent.
func (h *Hub) Subscribe(taskID string) chan []byte {
	ch := make(chan []byte, models.DefaultHubChannelBuffer)
	h.mu.Lock()
	room, ok := h.rooms[taskID]
	if !ok {
		room = make(map[chan []byte]struct{})
		h.rooms[taskID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()
	otel.AddSubscriber()
	return ch
}

// Unsubscribe removes the channel and closes it. The room is pruned when its
// last subscriber leaves so idle task ids hold no memory.
func (h *Hub) Unsubscribe(taskID string, ch chan []byte) {
	h.mu.Lock()
	if room, ok := h.rooms[taskID]; ok {
		if _, ok := room[ch]; ok {
			delete(room, ch)
			close(ch)
			otel.RemoveSubscriber()
		}
		if len(room) == 0 {
			delete(h.rooms, taskID)
		}
	}
	h.mu.Unlock()
}

// Publish serializes the event once and delivers it to every subscriber of
// taskID present at publish time. Publishing to a task id without subscribers
// is a no-op.
func (h *Hub) Publish(taskID string, ev models.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[taskID]
	if !ok {
		return
	}
	otel.RecordEventPublished(context.Background(), ev.Type)
	for ch := range room {
		select {
		case ch <- b:
		default:
			// Drop if subscriber is too slow; prevents global backpressure.
		}
	}
}

// Subscribers returns the current subscriber count for taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[taskID])
}
