package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestSessionFlushesQueuedFramesWhenBackendOpens(t *testing.T) {
	client := newFakeConn(true)
	backend := newFakeConn(true)

	release := make(chan struct{})
	dial := func(ctx context.Context) (Conn, error) {
		select {
		case <-release:
			return backend, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sess := NewSession(client, 10, time.Minute, dial)
	go sess.Run(context.Background())
	defer sess.Teardown("test done")

	client.incoming <- textFrame("m1")
	client.incoming <- textFrame("m2")
	client.incoming <- textFrame("m3")

	if !waitFor(time.Second, func() bool { return sess.QueueLen() == 3 }) {
		t.Fatalf("Expected 3 queued frames, got %d", sess.QueueLen())
	}

	close(release)

	if !waitFor(time.Second, func() bool { return len(backend.written()) == 3 }) {
		t.Fatalf("Expected 3 frames delivered to backend, got %v", backend.written())
	}

	got := backend.written()
	if got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Errorf("Expected [m1 m2 m3], got %v", got)
	}
	if sess.QueueLen() != 0 {
		t.Errorf("Expected empty queue after flush, got length %d", sess.QueueLen())
	}
	if sess.State() != StateOpen {
		t.Errorf("Expected state open, got %d", sess.State())
	}
}

func TestSessionForwardsDirectlyOnceOpen(t *testing.T) {
	client := newFakeConn(true)
	backend := newFakeConn(true)

	sess := NewSession(client, 10, time.Minute, func(ctx context.Context) (Conn, error) {
		return backend, nil
	})
	go sess.Run(context.Background())
	defer sess.Teardown("test done")

	if !waitFor(time.Second, func() bool { return sess.State() == StateOpen }) {
		t.Fatal("Session never opened")
	}

	client.incoming <- textFrame("hello")

	if !waitFor(time.Second, func() bool { return len(backend.written()) == 1 }) {
		t.Fatalf("Expected 1 frame at backend, got %v", backend.written())
	}
	if got := backend.written()[0]; got != "hello" {
		t.Errorf("Expected %q, got %q", "hello", got)
	}
}

func TestSessionRelaysBackendFramesToClient(t *testing.T) {
	client := newFakeConn(true)
	backend := newFakeConn(true)

	sess := NewSession(client, 10, time.Minute, func(ctx context.Context) (Conn, error) {
		return backend, nil
	})
	go sess.Run(context.Background())
	defer sess.Teardown("test done")

	if !waitFor(time.Second, func() bool { return sess.State() == StateOpen }) {
		t.Fatal("Session never opened")
	}

	backend.incoming <- Frame{Type: websocket.MessageBinary, Data: []byte("audio-chunk")}

	if !waitFor(time.Second, func() bool { return len(client.written()) == 1 }) {
		t.Fatalf("Expected 1 frame at client, got %v", client.written())
	}
	if got := client.written()[0]; got != "audio-chunk" {
		t.Errorf("Expected %q, got %q", "audio-chunk", got)
	}
}

func TestSessionTearsDownBothLegsWhenClientCloses(t *testing.T) {
	client := newFakeConn(true)
	backend := newFakeConn(true)

	sess := NewSession(client, 10, time.Minute, func(ctx context.Context) (Conn, error) {
		return backend, nil
	})
	go sess.Run(context.Background())

	if !waitFor(time.Second, func() bool { return sess.State() == StateOpen }) {
		t.Fatal("Session never opened")
	}

	_ = client.CloseNow()

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("Session never tore down after client close")
	}

	if !backend.isClosed() {
		t.Error("Backend leg left open after client close")
	}
	if sess.State() != StateClosed {
		t.Errorf("Expected state closed, got %d", sess.State())
	}
}

func TestSessionTearsDownOnBackendDialFailure(t *testing.T) {
	client := newFakeConn(true)

	sess := NewSession(client, 10, time.Minute, func(ctx context.Context) (Conn, error) {
		return nil, errors.New("backend unreachable")
	})
	go sess.Run(context.Background())

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("Session never tore down after dial failure")
	}

	if !client.isClosed() {
		t.Error("Client leg left open after dial failure")
	}
}

func TestSessionTeardownIsIdempotent(t *testing.T) {
	client := newFakeConn(true)
	sess := NewSession(client, 10, time.Minute, func(ctx context.Context) (Conn, error) {
		return newFakeConn(true), nil
	})

	sess.Teardown("first")
	sess.Teardown("second")

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
	if sess.State() != StateClosed {
		t.Errorf("Expected state closed, got %d", sess.State())
	}
}

func TestSessionDropsFramesWhileClosing(t *testing.T) {
	client := newFakeConn(true)
	backend := newFakeConn(true)

	sess := NewSession(client, 10, time.Minute, func(ctx context.Context) (Conn, error) {
		return backend, nil
	})
	sess.Teardown("pre-close")

	sess.forwardClientFrame(context.Background(), textFrame("late"))

	if n := len(backend.written()); n != 0 {
		t.Errorf("Expected no frames after teardown, got %d", n)
	}
	if sess.QueueLen() != 0 {
		t.Errorf("Expected empty queue after teardown, got %d", sess.QueueLen())
	}
}
