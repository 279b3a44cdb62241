package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/interfaces/codec"
	"github.com/f0mster/netrpc/pkg/interfaces/contextmarshaller"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/middleware"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/stream"
)

var (
	ErrUnknownContract = errors.New("unknown contract")
	errorType          = reflect.TypeOf((*error)(nil)).Elem()
)

// Factory resolves the service instance for one call.
type Factory func(ctx context.Context) (any, error)

type service struct {
	desc    *contract.Descriptor
	factory Factory
}

// Coordinator runs inbound calls: it reads the call from the adapter, passes
// it through the middleware chain and sends back the result or the fault.
type Coordinator struct {
	log        logger.Logger
	codec      codec.Codec
	marshaller contextmarshaller.ContextMarshaller
	chunkSize  int

	mu       sync.RWMutex
	services map[string]*service
	handler  middleware.CallHandler
}

func NewCoordinator(log logger.Logger, c codec.Codec, m contextmarshaller.ContextMarshaller, chunkSize int, stages ...middleware.CallMiddleware) *Coordinator {
	co := &Coordinator{
		log:        log,
		codec:      c,
		marshaller: m,
		chunkSize:  chunkSize,
		services:   map[string]*service{},
	}
	co.handler = middleware.Build(co.dispatch, stages...)
	return co
}

func (co *Coordinator) register(desc *contract.Descriptor, factory Factory) error {
	co.mu.Lock()
	defer co.mu.Unlock()
	if _, ok := co.services[desc.Name]; ok {
		return fmt.Errorf("service %s already registered", desc.Name)
	}
	co.services[desc.Name] = &service{desc: desc, factory: factory}
	return nil
}

func (co *Coordinator) lookup(a rpc.ActionInfo) (*service, *contract.Method, error) {
	co.mu.RLock()
	svc, ok := co.services[a.Contract]
	co.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownContract, a.Contract)
	}
	m, err := svc.desc.Method(a.Method)
	if err != nil {
		return nil, nil, err
	}
	return svc, m, nil
}

// HandleCall serves one call on adapter. root cancels every call when the
// host shuts down. Errors are returned only for failures that happened before
// the call could be answered.
func (co *Coordinator) HandleCall(root context.Context, a rpc.ServerAdapter) error {
	callCtx, cancel := context.WithCancel(root)
	defer cancel()

	if err := a.Start(callCtx, cancel); err != nil {
		co.log.Critical(err, "adapter start failed", "", "")
		return err
	}
	p, err := a.ReceiveCallParam(callCtx)
	if err != nil {
		co.log.Critical(err, "receive call failed", "", "")
		return err
	}
	action := p.Action

	svc, m, err := co.lookup(action)
	if err != nil {
		co.fail(callCtx, a, action, nil, err)
		return nil
	}
	if action.Path == "" {
		action.Path = m.Path
	}
	action.FireAndForget = action.FireAndForget || m.FireAndForget

	ctx, cancelDeadline, err := co.marshaller.Unmarshal(callCtx, p.Header)
	if err != nil {
		co.fail(callCtx, a, action, nil, err)
		return nil
	}
	defer cancelDeadline()

	instance, err := svc.factory(ctx)
	if err != nil {
		co.log.Critical(err, "service resolution failed", action.Contract, action.Method)
		return fmt.Errorf("resolve %s: %w", action.Contract, err)
	}

	cc := rpc.NewCallContext(ctx, p.CallID, action, p.Header, a.ChannelType())
	cc.Method = m
	cc.Instance = instance
	cc.SendCallback = func(ctx context.Context, payload []byte) error {
		return a.SendCallback(ctx, p.CallID, payload)
	}

	var upload io.ReadCloser
	if m.HasStream() {
		if !p.HasStream {
			// posted inline; an empty body may arrive as nil
			upload = io.NopCloser(bytes.NewReader(p.PostBody))
		} else if upload, err = a.OpenRequestStream(ctx, p.StreamLength); err != nil {
			co.fail(ctx, a, action, m, err)
			return nil
		}
		cc.SetStream(upload)
		defer upload.Close()
	}

	if cc.Args, err = rpc.DecodeArgs(co.codec, m, p.Args); err != nil {
		co.fail(ctx, a, action, m, err)
		return nil
	}

	if err = co.handler(cc); err != nil {
		co.fail(ctx, a, action, m, err)
		return nil
	}
	if action.FireAndForget {
		return nil
	}

	value, _ := cc.Result()
	res, src, err := rpc.EncodeResult(co.codec, m, value)
	if err != nil {
		co.fail(ctx, a, action, m, err)
		return nil
	}
	cont, err := a.SendResult(ctx, res)
	if err != nil {
		co.log.Error(err, "send result failed", action.Contract, action.Method, p.CallID)
	}
	if src == nil {
		return nil
	}
	if err != nil || !cont {
		if c, ok := src.(io.Closer); ok {
			_ = c.Close()
		}
		return nil
	}
	relay := stream.NewRelay(a, co.chunkSize, stream.OnStateChange(func(s stream.State) {
		if s == stream.Sending {
			cc.NotifyStreamStarted()
		} else if s.Terminal() {
			cc.NotifyStreamFinished(s)
		}
	}))
	if err := relay.Send(ctx, src); err != nil && !errors.Is(err, stream.ErrStreamCancelled) {
		co.log.Error(err, "result stream failed", action.Contract, action.Method, p.CallID)
	}
	return nil
}

// fail answers a call that raised err. Fire-and-forget calls only log.
func (co *Coordinator) fail(ctx context.Context, a rpc.ServerAdapter, action rpc.ActionInfo, m *contract.Method, err error) {
	var faults *fault.Translator
	if m != nil {
		faults = m.Faults
	}
	d := faults.ToDescriptor(err)
	switch {
	case d.StatusCode == fault.StatusCancelled:
		co.log.Info("call cancelled", action.Contract, action.Method)
	case d.StatusCode == fault.StatusUnhandled:
		co.log.Error(err, "call failed", action.Contract, action.Method, "")
	default:
		co.log.Debug("call answered with fault "+d.String(), action.Contract, action.Method)
	}
	if action.FireAndForget {
		return
	}
	if serr := a.SendFault(context.WithoutCancel(ctx), d); serr != nil {
		co.log.Error(serr, "send fault failed", action.Contract, action.Method, "")
	}
}

// dispatch is the innermost stage: it calls the method on the resolved instance.
func (co *Coordinator) dispatch(c *rpc.CallContext) error {
	m := c.Method
	fn := reflect.ValueOf(c.Instance).MethodByName(m.Name)
	if !fn.IsValid() {
		return fmt.Errorf("%T has no method %s", c.Instance, m.Name)
	}
	in := make([]reflect.Value, len(m.Roles))
	pure := 0
	for i, role := range m.Roles {
		at := m.Type.In(i)
		switch role {
		case contract.RoleCancel:
			in[i] = reflect.ValueOf(c.Context())
		case contract.RoleStream:
			s := c.TakeStream()
			if s == nil {
				s = io.NopCloser(bytes.NewReader(nil))
			}
			in[i] = reflect.ValueOf(s)
		case contract.RoleCallback:
			in[i] = co.callbackFunc(c, at)
		default:
			v := c.Args[pure]
			pure++
			if v == nil {
				in[i] = reflect.Zero(at)
			} else {
				in[i] = reflect.ValueOf(v)
			}
		}
	}
	out := fn.Call(in)
	if errV := out[len(out)-1]; !errV.IsNil() {
		return errV.Interface().(error)
	}
	if len(out) == 2 {
		return c.SetResult(out[0].Interface())
	}
	return nil
}

// callbackFunc builds the callback argument: every call encodes the payload
// and sends it to the caller.
func (co *Coordinator) callbackFunc(c *rpc.CallContext, t reflect.Type) reflect.Value {
	return reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
		ctx := c.Context()
		if c.Method.CallbackWithContext {
			if v, ok := args[0].Interface().(context.Context); ok && v != nil {
				ctx = v
			}
		}
		err := ctx.Err()
		if err == nil {
			var payload []byte
			if payload, err = co.codec.Marshal(args[len(args)-1].Interface()); err == nil {
				err = c.SendCallback(ctx, payload)
			}
		}
		ev := reflect.New(errorType).Elem()
		if err != nil {
			ev.Set(reflect.ValueOf(err))
		}
		return []reflect.Value{ev}
	})
}
