package framed

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/server"
	"github.com/f0mster/netrpc/pkg/stream"
)

type route struct {
	ctx    context.Context
	handle rpc.Handler
}

// Dispatcher serves framed connections: it starts one call per call frame and
// routes the following frames of that call to it.
type Dispatcher struct {
	channel rpc.ChannelType
	log     logger.Logger

	mu     sync.Mutex
	routes map[string]route
}

func NewDispatcher(channel rpc.ChannelType, log logger.Logger) *Dispatcher {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	return &Dispatcher{channel: channel, log: log, routes: map[string]route{}}
}

// Listen implements rpc.Listener.
func (d *Dispatcher) Listen(ctx context.Context, namespace string, handle rpc.Handler) (context.CancelFunc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.routes[namespace]; ok {
		return nil, fmt.Errorf("namespace %s already listened", namespace)
	}
	d.routes[namespace] = route{ctx: ctx, handle: handle}
	return func() {
		d.mu.Lock()
		delete(d.routes, namespace)
		d.mu.Unlock()
	}, nil
}

func (d *Dispatcher) route(namespace string) (route, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routes[namespace]
	return r, ok
}

// Serve reads conn until it fails or ctx is done. Calls still running on conn
// are cancelled when Serve returns.
func (d *Dispatcher) Serve(ctx context.Context, conn Conn) error {
	calls := map[string]*serverCall{}
	var mu sync.Mutex
	defer func() {
		mu.Lock()
		for _, c := range calls {
			c.abort()
		}
		mu.Unlock()
	}()
	for {
		f, err := conn.Recv(ctx)
		if err != nil {
			return err
		}
		if f.Kind == KindCall {
			if f.Param == nil {
				d.log.Warn("call frame without param "+f.ID, "", "")
				continue
			}
			r, ok := d.route(f.Param.Action.Contract)
			if !ok {
				d.reject(ctx, conn, f)
				continue
			}
			c := newServerCall(d.channel, conn, f)
			mu.Lock()
			if _, dup := calls[f.ID]; dup {
				mu.Unlock()
				d.log.Warn("duplicate call id "+f.ID, f.Param.Action.Contract, f.Param.Action.Method)
				continue
			}
			calls[f.ID] = c
			mu.Unlock()
			go func() {
				if err := r.handle(r.ctx, c); err != nil {
					d.log.Error(err, "call not served", c.param.Action.Contract, c.param.Action.Method, c.param.CallID)
					d.unserved(ctx, c)
				}
				c.finish()
				mu.Lock()
				delete(calls, c.param.CallID)
				mu.Unlock()
			}()
			continue
		}
		mu.Lock()
		c, ok := calls[f.ID]
		mu.Unlock()
		if !ok {
			continue
		}
		c.deliver(f)
	}
}

func (d *Dispatcher) reject(ctx context.Context, conn Conn, f *Frame) {
	err := fmt.Errorf("%w: %s", server.ErrUnknownContract, f.Param.Action.Contract)
	d.log.Warn(err.Error(), f.Param.Action.Contract, f.Param.Action.Method)
	if f.Param.Action.FireAndForget {
		return
	}
	_ = conn.Send(ctx, &Frame{ID: f.ID, Kind: KindFault, Fault: fault.ToDescriptor(err, nil)})
}

// unserved answers a call that failed before it could be answered, so the
// caller does not wait for a reply that never comes.
func (d *Dispatcher) unserved(ctx context.Context, c *serverCall) {
	if c.param.Action.FireAndForget || c.answered.Load() {
		return
	}
	desc := fault.ToDescriptor(&fault.TextError{StatusCode: fault.StatusUnhandled, Text: "call not served"}, nil)
	if err := c.send(ctx, &Frame{Kind: KindFault, Fault: desc}); err != nil {
		d.log.Warn("failed to answer unserved call: "+err.Error(), c.param.Action.Contract, c.param.Action.Method)
	}
}

// serverCall is the rpc.ServerAdapter of one framed call.
type serverCall struct {
	channel rpc.ChannelType
	conn    Conn
	param   *rpc.CallParam
	upload  *stream.Reader

	// answered is set once a result or fault went out
	answered atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

func newServerCall(channel rpc.ChannelType, conn Conn, f *Frame) *serverCall {
	p := f.Param
	p.CallID = f.ID
	return &serverCall{
		channel: channel,
		conn:    conn,
		param:   p,
		upload:  stream.NewReader(stream.WithLength(p.StreamLength)),
	}
}

func (c *serverCall) deliver(f *Frame) {
	switch f.Kind {
	case KindChunk:
		_ = c.upload.Push(f.Data)
	case KindEnd:
		c.upload.End()
	case KindStreamCancelled:
		c.upload.Cancel()
	case KindStreamFaulted:
		c.upload.Fault(nil)
	case KindCancel:
		c.abort()
	}
}

func (c *serverCall) abort() {
	c.mu.Lock()
	c.cancelled = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.upload.Cancel()
}

func (c *serverCall) finish() {
	_ = c.upload.Close()
}

func (c *serverCall) ChannelType() rpc.ChannelType {
	return c.channel
}

func (c *serverCall) Start(ctx context.Context, cancel context.CancelFunc) error {
	c.mu.Lock()
	c.cancel = cancel
	cancelled := c.cancelled
	c.mu.Unlock()
	if cancelled {
		cancel()
	}
	return nil
}

func (c *serverCall) ReceiveCallParam(ctx context.Context) (*rpc.CallParam, error) {
	return c.param, nil
}

func (c *serverCall) OpenRequestStream(ctx context.Context, length *int64) (io.ReadCloser, error) {
	return c.upload, nil
}

func (c *serverCall) send(ctx context.Context, f *Frame) error {
	f.ID = c.param.CallID
	return c.conn.Send(ctx, f)
}

func (c *serverCall) SendResult(ctx context.Context, r *rpc.Result) (bool, error) {
	if err := c.send(ctx, &Frame{Kind: KindResult, Result: r}); err != nil {
		return false, err
	}
	c.answered.Store(true)
	return r.HasStream, nil
}

func (c *serverCall) SendFault(ctx context.Context, d *fault.Descriptor) error {
	kind := KindFault
	if d.StatusCode == fault.StatusCancelled {
		kind = KindCancelled
	}
	if err := c.send(ctx, &Frame{Kind: kind, Fault: d}); err != nil {
		return err
	}
	c.answered.Store(true)
	return nil
}

func (c *serverCall) SendCallback(ctx context.Context, callID string, payload []byte) error {
	return c.conn.Send(ctx, &Frame{ID: callID, Kind: KindCallback, Data: payload})
}

func (c *serverCall) SendChunk(ctx context.Context, chunk []byte) error {
	return c.send(ctx, &Frame{Kind: KindChunk, Data: chunk})
}

func (c *serverCall) SendStreamEnd(ctx context.Context) error {
	return c.send(ctx, &Frame{Kind: KindEnd})
}

func (c *serverCall) SendStreamCancelled(ctx context.Context) error {
	return c.send(ctx, &Frame{Kind: KindStreamCancelled})
}

func (c *serverCall) SendStreamFaulted(ctx context.Context) error {
	return c.send(ctx, &Frame{Kind: KindStreamFaulted})
}
