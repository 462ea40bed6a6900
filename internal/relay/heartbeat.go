package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sideName identifies one leg of a proxy session in logs.
type sideName string

const (
	sideClient  sideName = "client"
	sideBackend sideName = "backend"
)

type side struct {
	conn  Conn
	alive bool
}

// Heartbeat detects silently-dead peers on a proxy session's two legs.
// Each tick it terminates any attached side whose liveness flag was never
// re-set since the previous ping, otherwise clears the flag and pings
// again. A peer that stops answering is therefore declared dead within at
// most two intervals.
type Heartbeat struct {
	interval time.Duration
	onDead   func(side sideName)

	mu      sync.Mutex
	client  side
	backend side

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHeartbeat creates a monitor for one connection pair. onDead is invoked
// at most once, from the monitor goroutine, when a side misses a full cycle.
func NewHeartbeat(interval time.Duration, onDead func(side sideName)) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{
		interval: interval,
		onDead:   onDead,
		stop:     make(chan struct{}),
	}
}

// AttachClient registers the client leg. The side starts out alive.
func (h *Heartbeat) AttachClient(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = side{conn: c, alive: true}
}

// AttachBackend registers the backend leg once it opens.
func (h *Heartbeat) AttachBackend(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backend = side{conn: c, alive: true}
}

// Start begins the periodic liveness checks in a new goroutine.
func (h *Heartbeat) Start() {
	go h.loop()
}

// Stop cancels the monitor. Safe to call multiple times and from onDead.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

func (h *Heartbeat) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if dead, name := h.tick(); dead {
				slog.Warn("heartbeat missed, terminating session pair", "side", string(name))
				h.Stop()
				h.onDead(name)
				return
			}
		}
	}
}

// tick checks both attached sides. It reports the first dead side found;
// otherwise it clears each side's flag and fires a ping that re-sets the
// flag when the pong arrives.
func (h *Heartbeat) tick() (bool, sideName) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client.conn != nil {
		if !h.client.alive {
			return true, sideClient
		}
		h.client.alive = false
		go h.ping(h.client.conn, sideClient)
	}
	if h.backend.conn != nil {
		if !h.backend.alive {
			return true, sideBackend
		}
		h.backend.alive = false
		go h.ping(h.backend.conn, sideBackend)
	}
	return false, ""
}

// ping sends one protocol-level ping and marks the side alive when the
// matching pong arrives. Pings on an already-closed connection simply fail
// and leave the flag cleared for the next tick to act on.
func (h *Heartbeat) ping(c Conn, name sideName) {
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		slog.Debug("heartbeat ping failed", "side", string(name), "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch name {
	case sideClient:
		if h.client.conn == c {
			h.client.alive = true
		}
	case sideBackend:
		if h.backend.conn == c {
			h.backend.alive = true
		}
	}
}
