package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory Conn for exercising sessions and heartbeats
// without real sockets. Reads are fed through the incoming channel; writes
// are recorded. When pongs is false, Ping blocks until its context expires.
type fakeConn struct {
	incoming chan Frame
	pongs    bool

	mu     sync.Mutex
	writes []Frame
	closed bool

	closeCh chan struct{}
}

func newFakeConn(pongs bool) *fakeConn {
	return &fakeConn{
		incoming: make(chan Frame, 16),
		pongs:    pongs,
		closeCh:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f := <-c.incoming:
		return f.Type, f.Data, nil
	case <-c.closeCh:
		return 0, nil, errConnClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	data := append([]byte(nil), p...)
	c.writes = append(c.writes, Frame{Type: typ, Data: data})
	return nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	if c.pongs {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	return c.CloseNow()
}

func (c *fakeConn) CloseNow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.closed = true
	close(c.closeCh)
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, f := range c.writes {
		out[i] = string(f.Data)
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
