package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/f0mster/netrpc/pkg/transport/framed"
)

const writeTimeout = 10 * time.Second

// Conn is a framed.Conn over a websocket. Frames are text messages.
type Conn struct {
	ws    *websocket.Conn
	inbox *framed.Queue[*framed.Frame]

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ framed.Conn = (*Conn)(nil)

// NewConn starts reading ws. Reading stops when the socket fails or is closed.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, inbox: framed.NewQueue[*framed.Frame]()}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			c.inbox.Fail(fmt.Errorf("websocket read: %w", err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		f, err := framed.Decode(message)
		if err != nil {
			continue
		}
		c.inbox.Push(f)
	}
}

func (c *Conn) Send(ctx context.Context, f *framed.Frame) error {
	data, err := framed.Encode(f)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Recv(ctx context.Context) (*framed.Frame, error) {
	return c.inbox.Pop(ctx)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
