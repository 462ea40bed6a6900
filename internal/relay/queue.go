// Package relay implements the realtime duplex proxy between browser
// clients and the AI backend service.
package relay

import (
	"container/list"
	"sync"

	"github.com/coder/websocket"
)

// Frame is one opaque websocket message awaiting delivery. The relay never
// inspects payloads; the wire protocol belongs to the client and the backend.
type Frame struct {
	Type websocket.MessageType
	Data []byte
}

// Queue is a capacity-bounded FIFO buffering client frames while the
// backend leg is still connecting. On overflow the oldest frame is dropped:
// for a live conversational stream, stale input is worth less than recency.
type Queue struct {
	mu       sync.Mutex
	frames   *list.List
	capacity int
	dropped  int
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 50
	}
	return &Queue{
		frames:   list.New(),
		capacity: capacity,
	}
}

// Enqueue appends a frame, evicting the oldest entry when full.
func (q *Queue) Enqueue(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.frames.Len() >= q.capacity {
		q.frames.Remove(q.frames.Front())
		q.dropped++
	}
	q.frames.PushBack(f)
}

// Flush delivers all buffered frames in insertion order, then empties the
// queue. It must be called exactly once, when the backend leg opens; the
// session holds its lock across the call so no later enqueue can interleave
// with the drain.
func (q *Queue) Flush(write func(Frame) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.frames.Front(); e != nil; e = e.Next() {
		if err := write(e.Value.(Frame)); err != nil {
			q.frames.Init()
			return err
		}
	}
	q.frames.Init()
	return nil
}

// Clear empties the queue without delivery. Used on teardown.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames.Init()
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames.Len()
}

// Dropped returns how many frames were evicted by the overflow policy.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
