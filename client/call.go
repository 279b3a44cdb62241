package client

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/metadata"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/stream"
)

// Call invokes m. ctx carries the header metadata, the deadline and the
// cancellation of the call. callback receives the method's notifications,
// upload is sent as the stream argument.
func (c *Client) Call(ctx context.Context, m *contract.Method, callback any, upload io.Reader, args ...any) (any, error) {
	if callback != nil && m.HasCallback() {
		if t := reflect.TypeOf(callback); t != m.Type.In(m.CallbackIndex) {
			return nil, fmt.Errorf("%s: callback must be %s, got %s", m, m.Type.In(m.CallbackIndex), t)
		}
	}
	header, _ := metadata.FromContext(ctx)
	action := rpc.ActionInfo{
		Contract:      m.Contract,
		Method:        m.Name,
		Path:          m.Path,
		FireAndForget: m.FireAndForget,
	}
	cc := rpc.NewCallContext(ctx, uuid.NewString(), action, header.Copy(), "")
	cc.Method = m
	cc.Args = args
	cc.Callback = callback
	if upload != nil {
		rc, ok := upload.(io.ReadCloser)
		if !ok {
			rc = io.NopCloser(upload)
		}
		cc.SetStream(rc)
	}
	if err := c.handler(cc); err != nil {
		return nil, err
	}
	v, _ := cc.Result()
	return v, nil
}

// Invoke calls method of desc. args are the method parameters in declaration
// order without the context: pure values, the io.Reader and the callback.
func (c *Client) Invoke(ctx context.Context, desc *contract.Descriptor, method string, args ...any) (any, error) {
	m, err := desc.Method(method)
	if err != nil {
		return nil, err
	}
	pure, upload, cb, err := splitArgs(m, args)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, m, cb, upload, pure...)
}

// Invoke is Client.Invoke with a typed result.
func Invoke[R any](ctx context.Context, c *Client, desc *contract.Descriptor, method string, args ...any) (R, error) {
	var zero R
	v, err := c.Invoke(ctx, desc, method, args...)
	if err != nil || v == nil {
		return zero, err
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("%s.%s returned %T, not %T", desc.Name, method, v, zero)
	}
	return r, nil
}

func splitArgs(m *contract.Method, args []any) (pure []any, upload io.Reader, cb any, err error) {
	expected := len(m.Roles)
	if m.HasCancel() {
		expected--
	}
	if len(args) != expected {
		return nil, nil, nil, fmt.Errorf("%s: expected %d arguments, got %d", m, expected, len(args))
	}
	i := 0
	for _, role := range m.Roles {
		switch role {
		case contract.RoleCancel:
			continue
		case contract.RoleStream:
			upload, _ = args[i].(io.Reader)
		case contract.RoleCallback:
			cb = args[i]
		default:
			pure = append(pure, args[i])
		}
		i++
	}
	return pure, upload, cb, nil
}

// call is the state of one outbound call shared by its goroutines.
type call struct {
	c       *Client
	cc      *rpc.CallContext
	adapter rpc.ClientAdapter

	done         chan struct{}
	releaseOnce  sync.Once
	cancelOnce   sync.Once
	stopUpload   context.CancelFunc
	stopRecv     context.CancelFunc
	recvCtx      context.Context
	hasCallbacks bool
	streamEnded  atomic.Bool
}

// invoke is the innermost stage of the client chain.
func (c *Client) invoke(cc *rpc.CallContext) error {
	ctx := cc.Context()
	m := cc.Method
	if !c.serviceReady(m.Contract) {
		return fmt.Errorf("%w: %s", ErrServiceNotStarted, m.Contract)
	}
	header, err := c.config.ContextMarshaller.Marshal(ctx)
	if err != nil {
		return err
	}
	for k, v := range cc.Header {
		if _, ok := header[k]; !ok {
			header[k] = v
		}
	}
	args, err := rpc.EncodeArgs(c.config.Codec, cc.Args)
	if err != nil {
		return err
	}
	p := &rpc.CallParam{
		CallID: cc.CallID,
		Header: header,
		Action: cc.Action,
		Args:   args,
	}
	upload := cc.TakeStream()
	if m.HasStream() {
		if upload == nil {
			upload = io.NopCloser(eofReader{})
		}
		if cc.Action.FireAndForget {
			body, err := io.ReadAll(upload)
			_ = upload.Close()
			if err != nil {
				return fmt.Errorf("read posted body: %w", err)
			}
			p.PostBody = body
			upload = nil
		} else {
			p.HasStream = true
			if n, ok := stream.LengthOf(upload); ok {
				p.StreamLength = &n
			}
		}
	}

	cl := &call{c: c, cc: cc, done: make(chan struct{})}
	if m.HasCallback() && cc.Callback != nil && !cc.Action.FireAndForget {
		if _, err := c.callbacks.Register(cc.CallID, cl.onCallback); err != nil {
			return err
		}
		cl.hasCallbacks = true
	}
	cl.adapter, err = c.config.Transport.NewAdapter(ctx, cc.CallID, c.callbacks)
	if err != nil {
		cl.release()
		return err
	}
	if err := cl.adapter.Start(ctx); err != nil {
		cl.release()
		return err
	}
	if err := cl.adapter.SendCallParam(ctx, p); err != nil {
		cl.release()
		if ctx.Err() != nil {
			return &fault.Cancelled{}
		}
		return err
	}
	if cc.Action.FireAndForget {
		cl.release()
		return nil
	}

	cl.recvCtx, cl.stopRecv = context.WithCancel(context.WithoutCancel(ctx))
	go cl.watchCancel(ctx)
	if upload != nil {
		var uploadCtx context.Context
		uploadCtx, cl.stopUpload = context.WithCancel(ctx)
		go cl.sendUpload(uploadCtx, upload)
	}
	return cl.await(ctx)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func (cl *call) sendUpload(ctx context.Context, upload io.ReadCloser) {
	relay := stream.NewRelay(cl.adapter, cl.c.config.ChunkSize, stream.OnStateChange(func(s stream.State) {
		if s == stream.Sending {
			cl.cc.NotifyStreamStarted()
		} else if s.Terminal() {
			cl.cc.NotifyStreamFinished(s)
		}
	}))
	if err := relay.Send(ctx, upload); err != nil && ctx.Err() == nil {
		cl.c.config.Logger.Error(err, "upload failed", cl.cc.Action.Contract, cl.cc.Action.Method, cl.cc.CallID)
	}
}

// watchCancel forwards the caller's cancellation to the server, once.
func (cl *call) watchCancel(ctx context.Context) {
	select {
	case <-cl.done:
		return
	case <-ctx.Done():
	}
	cl.forwardCancel(ctx)
	select {
	case <-cl.done:
	case <-time.After(cl.c.config.CancelGrace):
		cl.stopRecv()
	}
}

func (cl *call) forwardCancel(ctx context.Context) {
	cl.cancelOnce.Do(func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cl.c.config.CancelGrace)
		defer cancel()
		if err := cl.adapter.SendCancel(sendCtx); err != nil {
			cl.c.config.Logger.Warn("send cancel failed: "+err.Error(), cl.cc.Action.Contract, cl.cc.Action.Method)
		}
	})
}

func (cl *call) release() {
	cl.releaseOnce.Do(func() {
		close(cl.done)
		if cl.stopUpload != nil {
			cl.stopUpload()
		}
		if cl.hasCallbacks {
			cl.c.callbacks.Unregister(cl.cc.CallID)
		}
		if cl.adapter != nil {
			_ = cl.adapter.Close()
		}
		if cl.stopRecv != nil {
			cl.stopRecv()
		}
	})
}

func (cl *call) onCallback(payload []byte) {
	m := cl.cc.Method
	v, err := rpc.DecodeValue(cl.c.config.Codec, payload, m.CallbackPayload)
	if err != nil {
		cl.c.config.Logger.Error(err, "bad callback payload", m.Contract, m.Name, string(payload))
		return
	}
	in := []reflect.Value{v}
	if m.CallbackWithContext {
		in = []reflect.Value{reflect.ValueOf(cl.cc.Context()), v}
	}
	out := reflect.ValueOf(cl.cc.Callback).Call(in)
	if errV := out[0]; !errV.IsNil() {
		cl.c.config.Logger.Error(errV.Interface().(error), "callback failed", m.Contract, m.Name, "")
	}
}

// await resolves the call with exactly one of result, fault or cancellation.
func (cl *call) await(ctx context.Context) error {
	m := cl.cc.Method
	reply, err := cl.adapter.Recv(cl.recvCtx)
	if err != nil {
		cl.release()
		if ctx.Err() != nil {
			return &fault.Cancelled{}
		}
		return err
	}
	switch reply.Kind {
	case rpc.ReplyFault:
		cl.release()
		return m.Faults.FromDescriptor(reply.Fault)
	case rpc.ReplyCancelled:
		cl.release()
		if reply.Fault != nil {
			return fault.FromDescriptor(reply.Fault, nil)
		}
		return &fault.Cancelled{}
	case rpc.ReplyResult:
	default:
		cl.release()
		return fmt.Errorf("%s: unexpected %s before result", m, reply.Kind)
	}

	res := reply.Result
	if res == nil {
		res = &rpc.Result{}
	}
	if !res.HasStream {
		cl.release()
		v, err := rpc.DecodeResult(cl.c.config.Codec, m, res, nil)
		if err != nil {
			return err
		}
		return cl.cc.SetResult(v)
	}

	rd := stream.NewReader(
		stream.WithLength(res.StreamLength),
		stream.OnStarted(cl.cc.NotifyStreamStarted),
		stream.OnFinished(func(s stream.State) {
			if !cl.streamEnded.Load() {
				// closed by the consumer before the server finished
				cl.forwardCancel(ctx)
			}
			cl.cc.NotifyStreamFinished(s)
			cl.release()
		}),
	)
	go cl.pump(rd)
	v, err := rpc.DecodeResult(cl.c.config.Codec, m, res, rd)
	if err != nil {
		_ = rd.Close()
		return err
	}
	return cl.cc.SetResult(v)
}

// pump feeds the result stream from the adapter until a terminal signal.
func (cl *call) pump(rd *stream.Reader) {
	for {
		reply, err := cl.adapter.Recv(cl.recvCtx)
		if err == nil && reply.Kind != rpc.ReplyChunk {
			cl.streamEnded.Store(true)
		}
		if err != nil {
			cl.streamEnded.Store(true)
			if cl.cc.Context().Err() != nil {
				rd.Cancel()
			} else {
				rd.Fault(err)
			}
			return
		}
		switch reply.Kind {
		case rpc.ReplyChunk:
			if rd.Push(reply.Data) != nil {
				return
			}
		case rpc.ReplyStreamEnd:
			rd.End()
			return
		case rpc.ReplyStreamCancelled, rpc.ReplyCancelled:
			rd.Cancel()
			return
		default:
			rd.Fault(fmt.Errorf("unexpected %s in result stream", reply.Kind))
			return
		}
	}
}
