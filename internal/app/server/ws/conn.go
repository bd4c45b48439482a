package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket wraps a gorilla connection with the deadlines and limits every
// socket shares. Only one goroutine may call WriteMessage at a time.
type WebSocket struct {
	*websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	log          *slog.Logger
	readLimit    int64
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func NewWebSocket(
	parent context.Context,
	log *slog.Logger,
	conn *websocket.Conn,
	readLimit int64,
	writeTimeout time.Duration,
) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	return &WebSocket{
		Conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		log:          log,
		readLimit:    readLimit,
		writeTimeout: writeTimeout,
	}
}

func (w *WebSocket) Context() context.Context { return w.ctx }

func (w *WebSocket) WriteMessage(data []byte) error {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

// ReadLoop calls onMsg for every non-empty text frame until the peer goes
// away or the socket is closed. Frames are handled one at a time.
func (w *WebSocket) ReadLoop(onMsg func([]byte)) {
	// Ensure cleanup happens when the loop breaks
	defer w.Close()

	// Configure Read Limits (Protects against memory exhaustion)
	w.Conn.SetReadLimit(w.readLimit)

	for {
		msgType, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				w.log.Warn("ws - read loop - unexpected close", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}
		onMsg(data)
	}
}

// CloseWith sends a close frame carrying code and reason, then closes.
func (w *WebSocket) CloseWith(code int, reason string) {
	deadline := time.Now().Add(w.writeTimeout)
	_ = w.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	w.Close()
}

func (w *WebSocket) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		_ = w.Conn.Close()
	})
}
