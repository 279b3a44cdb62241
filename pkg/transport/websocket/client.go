package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/transport/framed"
)

// Client is a rpc.ClientTransport multiplexing calls over one websocket.
type Client struct {
	*framed.Session
}

var _ rpc.ClientTransport = (*Client)(nil)

func Dial(ctx context.Context, endpoint string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &Client{Session: framed.NewSession(context.WithoutCancel(ctx), NewConn(ws), log)}, nil
}
