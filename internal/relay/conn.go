package relay

import (
	"context"

	"github.com/coder/websocket"
)

// Conn is the subset of *websocket.Conn the relay depends on. Tests
// substitute in-memory fakes; production code passes real connections.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}
