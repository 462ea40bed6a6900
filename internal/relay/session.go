package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// maxFrameBytes bounds a single relayed frame. Audio chunks from the
// browser can exceed the library's 32KB default.
const maxFrameBytes = 1 << 20

// backendDialTimeout bounds the backend leg handshake.
const backendDialTimeout = 10 * time.Second

// State is the lifecycle state of a proxy session. Transitions only move
// forward; there is no way back to open once closing has begun.
type State int32

// Session lifecycle states.
const (
	StateConnectingBackend State = iota
	StateOpen
	StateClosing
	StateClosed
)

// dialFunc opens the backend leg. Injected so tests can substitute fakes.
type dialFunc func(ctx context.Context) (Conn, error)

// Session owns one client connection and one backend connection, relaying
// frames bidirectionally without touching their contents. Either leg
// closing, erroring, or missing a heartbeat tears down both legs; teardown
// is terminal and idempotent.
type Session struct {
	id    string
	queue *Queue
	hb    *Heartbeat
	dial  dialFunc

	mu      sync.Mutex
	state   State
	client  Conn
	backend Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a proxy session for an accepted client connection.
func NewSession(client Conn, queueCapacity int, heartbeatInterval time.Duration, dial dialFunc) *Session {
	s := &Session{
		id:     uuid.NewString(),
		queue:  NewQueue(queueCapacity),
		dial:   dial,
		state:  StateConnectingBackend,
		client: client,
		done:   make(chan struct{}),
	}
	s.hb = NewHeartbeat(heartbeatInterval, func(name sideName) {
		s.Teardown("heartbeat timeout: " + string(name))
	})
	s.hb.AttachClient(client)
	return s
}

// Run drives the session: it dials the backend leg, starts the heartbeat,
// and relays client frames until either leg terminates. It blocks until
// the client read loop ends.
func (s *Session) Run(ctx context.Context) {
	slog.Info("proxy session started", "session_id", s.id)
	s.hb.Start()
	go s.connectBackend(ctx)
	s.clientReadLoop(ctx)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when teardown completes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// QueueLen reports the number of frames waiting for the backend leg.
func (s *Session) QueueLen() int {
	return s.queue.Len()
}

// connectBackend dials the AI backend and, on success, flushes the pending
// queue and flips the session open. The flush and the state change share
// one critical section: nothing enqueued afterwards can jump the drain.
func (s *Session) connectBackend(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, backendDialTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx)
	if err != nil {
		slog.Warn("backend dial failed", "session_id", s.id, "error", err)
		s.Teardown("backend dial failed")
		return
	}

	s.mu.Lock()
	if s.state != StateConnectingBackend {
		s.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	s.backend = conn
	err = s.queue.Flush(func(f Frame) error {
		return conn.Write(ctx, f.Type, f.Data)
	})
	if err != nil {
		s.mu.Unlock()
		slog.Warn("queue flush to backend failed", "session_id", s.id, "error", err)
		s.Teardown("queue flush failed")
		return
	}
	s.state = StateOpen
	s.mu.Unlock()

	s.hb.AttachBackend(conn)
	slog.Info("backend leg open", "session_id", s.id)
	go s.backendReadLoop(ctx)
}

func (s *Session) clientReadLoop(ctx context.Context) {
	for {
		typ, data, err := s.client.Read(ctx)
		if err != nil {
			s.Teardown("client leg closed")
			return
		}
		s.forwardClientFrame(ctx, Frame{Type: typ, Data: data})
	}
}

// forwardClientFrame sends a client frame straight through when the
// backend is open, buffers it while the backend is still connecting, and
// drops it once the session is closing.
func (s *Session) forwardClientFrame(ctx context.Context, f Frame) {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		backend := s.backend
		s.mu.Unlock()
		if err := backend.Write(ctx, f.Type, f.Data); err != nil {
			s.Teardown("backend write failed")
		}
	case StateConnectingBackend:
		s.queue.Enqueue(f)
		s.mu.Unlock()
	default:
		s.mu.Unlock()
	}
}

// backendReadLoop relays backend frames to the client. The backend is the
// authority: if the client leg is gone there is nothing to deliver to, so
// failures terminate the pair rather than buffer.
func (s *Session) backendReadLoop(ctx context.Context) {
	for {
		typ, data, err := s.backend.Read(ctx)
		if err != nil {
			s.Teardown("backend leg closed")
			return
		}
		if err := s.client.Write(ctx, typ, data); err != nil {
			s.Teardown("client write failed")
			return
		}
	}
}

// Teardown terminates both legs abruptly, stops the heartbeat, and clears
// the queue. Invoking it again (close and error often both fire) is a no-op.
func (s *Session) Teardown(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		client, backend := s.client, s.backend
		s.mu.Unlock()

		s.hb.Stop()
		s.queue.Clear()

		// Abrupt termination: a graceful close handshake can itself hang
		// on a dead peer. CloseNow on an already-closed conn just errors.
		if client != nil {
			_ = client.CloseNow()
		}
		if backend != nil {
			_ = backend.CloseNow()
		}

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		close(s.done)
		slog.Info("proxy session closed", "session_id", s.id, "reason", reason)
	})
}

// Handler accepts chat proxy upgrades and runs one Session per connection.
type Handler struct {
	realtimeURL       string
	queueCapacity     int
	heartbeatInterval time.Duration
}

// NewHandler creates the chat proxy upgrade handler.
func NewHandler(realtimeURL string, queueCapacity int, heartbeatInterval time.Duration) *Handler {
	return &Handler{
		realtimeURL:       realtimeURL,
		queueCapacity:     queueCapacity,
		heartbeatInterval: heartbeatInterval,
	}
}

// ServeHTTP upgrades the client connection and proxies it to the backend.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept chat proxy upgrade", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	sess := NewSession(ws, h.queueCapacity, h.heartbeatInterval, func(ctx context.Context) (Conn, error) {
		conn, _, err := websocket.Dial(ctx, h.realtimeURL, nil)
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(maxFrameBytes)
		return conn, nil
	})
	sess.Run(r.Context())
}
