package ws

import (
	"context"
	"log/slog"
	"parley/internal/core/domain"
	"sync"

	"github.com/google/uuid"
)

// RuntimeClient is one live socket as seen by the registry. Frames queued with
// Send are written by a single writer goroutine.
type RuntimeClient struct {
	id     string
	userID int64
	ctx    context.Context
	cancel context.CancelFunc
	ws     *WebSocket
	out    chan []byte
	once   sync.Once
	log    *slog.Logger
}

func NewClient(
	parent context.Context,
	log *slog.Logger,
	ws *WebSocket,
	userID int64,
	buffer int,
) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		id:     uuid.NewString(),
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		out:    make(chan []byte, buffer),
		log:    log,
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) ID() string               { return c.id }
func (c *RuntimeClient) UserID() int64            { return c.userID }
func (c *RuntimeClient) Done() <-chan struct{}    { return c.ctx.Done() }
func (c *RuntimeClient) Context() context.Context { return c.ctx }

// Send queues data without blocking. A client whose queue is full is too slow
// to keep up and gets disconnected.
func (c *RuntimeClient) Send(_ context.Context, data []byte) error {
	if c.ctx.Err() != nil {
		return domain.ErrConnectionClosed
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	default:
		c.log.Warn("ws client - send - queue full, disconnecting", "conn_id", c.id, "user_id", c.userID, "buffer", cap(c.out))
		c.Close()
		return domain.ErrSlowConsumer
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				c.log.Debug("ws client - write loop - write failed", "conn_id", c.id, "user_id", c.userID, "err", err)
				return
			}
		}
	}
}
