package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/gambit/pkg/world"
	"github.com/gorilla/websocket"
)

// Func adapts a plain function into an Adapter.
type Func func(ctx context.Context, update world.StateUpdate) error

// Push implements Adapter.
func (f Func) Push(ctx context.Context, update world.StateUpdate) error {
	return f(ctx, update)
}

// Publisher is the part of the store the Redis adapter needs.
type Publisher interface {
	PublishUpdate(ctx context.Context, update world.StateUpdate) error
}

// Redis publishes every update to the session's Redis channel, where
// `gambit watch` and out-of-process platform adapters pick it up.
type Redis struct {
	publisher Publisher
}

// NewRedis creates a Redis sink.
func NewRedis(p Publisher) *Redis {
	return &Redis{publisher: p}
}

// Push implements Adapter.
func (r *Redis) Push(ctx context.Context, update world.StateUpdate) error {
	return r.publisher.PublishUpdate(ctx, update)
}

// ErrConnectionClosed is returned when pushing to a closed WebSocket.
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocket pushes updates as JSON text frames. Writes are serialized by a
// mutex and bounded by a write deadline. After the first failed write the
// adapter reports itself offline.
type WebSocket struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	writeWait time.Duration
	closed    atomic.Bool
}

// NewWebSocket wraps an upgraded connection.
func NewWebSocket(conn *websocket.Conn, writeWait time.Duration) *WebSocket {
	if writeWait <= 0 {
		writeWait = DefaultPushTimeout
	}
	return &WebSocket{conn: conn, writeWait: writeWait}
}

// Push implements Adapter.
func (w *WebSocket) Push(ctx context.Context, update world.StateUpdate) error {
	if w.closed.Load() {
		return ErrConnectionClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	deadline := time.Now().Add(w.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		w.closed.Store(true)
		return err
	}
	if err := w.conn.WriteJSON(update); err != nil {
		w.closed.Store(true)
		return err
	}
	return nil
}

// Online implements Presence.
func (w *WebSocket) Online() bool {
	return !w.closed.Load()
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeWait))
	return w.conn.Close()
}
