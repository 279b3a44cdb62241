package mq

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/pubsub"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/transport/framed"
)

// route is where the frames of one call go after its call frame.
type route struct {
	instance string
	pending  []*framed.Frame
}

// conn is the client side framed.Conn: call frames go to the namespace
// queue, later frames to the instance that answered the handshake.
type conn struct {
	broker pubsub.Broker
	log    logger.Logger
	topic  string
	inbox  *framed.Queue[*framed.Frame]
	stop   pubsub.CancelFunc

	mu     sync.Mutex
	routes map[string]*route
}

func (c *conn) onFrame(event []byte) error {
	f, err := framed.Decode(event)
	if err != nil {
		c.log.Warn("bad reply frame: "+err.Error(), "", "")
		return err
	}
	if f.Kind == framed.KindStart {
		return c.started(f)
	}
	if framed.Terminal(f) {
		c.mu.Lock()
		delete(c.routes, f.ID)
		c.mu.Unlock()
	}
	c.inbox.Push(f)
	return nil
}

func (c *conn) started(f *framed.Frame) error {
	c.mu.Lock()
	r, ok := c.routes[f.ID]
	var pending []*framed.Frame
	if ok {
		r.instance = f.ReplyTo
		pending, r.pending = r.pending, nil
	}
	c.mu.Unlock()
	for _, p := range pending {
		if err := c.publish(f.ReplyTo, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) publish(topic string, f *framed.Frame) error {
	data, err := framed.Encode(f)
	if err != nil {
		return err
	}
	return c.broker.PublishToTopic(topic, data)
}

func (c *conn) Send(ctx context.Context, f *framed.Frame) error {
	if f.Kind == framed.KindCall {
		f.ReplyTo = c.topic
		if !f.Param.Action.FireAndForget {
			c.mu.Lock()
			c.routes[f.ID] = &route{}
			c.mu.Unlock()
		}
		return c.publish(CallsTopic(f.Param.Action.Contract), f)
	}
	c.mu.Lock()
	r, ok := c.routes[f.ID]
	if ok && r.instance == "" {
		r.pending = append(r.pending, f)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	if !ok {
		// the call already finished
		return nil
	}
	return c.publish(r.instance, f)
}

func (c *conn) Recv(ctx context.Context) (*framed.Frame, error) {
	return c.inbox.Pop(ctx)
}

// CloseCall drops the route of a call the client gave up on.
func (c *conn) CloseCall(callID string) {
	c.mu.Lock()
	delete(c.routes, callID)
	c.mu.Unlock()
}

func (c *conn) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.routes)
}

func (c *conn) Close() error {
	c.stop()
	c.inbox.Fail(ErrClosed)
	return nil
}

// Client is a rpc.ClientTransport publishing calls through a broker.
type Client struct {
	*framed.Session
	conn *conn
}

var _ rpc.ClientTransport = (*Client)(nil)

func NewClient(ctx context.Context, broker pubsub.Broker, log logger.Logger) (*Client, error) {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	c := &conn{
		broker: broker,
		log:    log,
		topic:  "netrpc.reply." + uuid.NewString(),
		inbox:  framed.NewQueue[*framed.Frame](),
		routes: map[string]*route{},
	}
	stop, err := broker.SubscribeForTopic(c.topic, c.onFrame)
	if err != nil {
		return nil, err
	}
	c.stop = stop
	return &Client{Session: framed.NewSession(ctx, c, log), conn: c}, nil
}
