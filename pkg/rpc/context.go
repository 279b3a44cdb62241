package rpc

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/metadata"
	"github.com/f0mster/netrpc/pkg/stream"
)

var (
	ErrResultSet   = errors.New("result already set")
	ErrAsyncResult = errors.New("result must be resolved before it is set")
)

// CallContext is the state of one call while it passes the middleware chain.
// It is created per call and never reused.
type CallContext struct {
	ctx context.Context

	CallID  string
	Action  ActionInfo
	Header  metadata.Metadata
	Method  *contract.Method
	Channel ChannelType
	Start   time.Time

	// Args are the pure arguments. On the server they are decoded values,
	// on the client the values the caller passed.
	Args []any
	// Callback is the caller's callback function on the client side.
	Callback any
	// Instance is the service object the call is dispatched to.
	Instance any
	// SendCallback sends a notification to the caller (server side).
	SendCallback func(ctx context.Context, payload []byte) error

	mu        sync.Mutex
	stream    io.ReadCloser
	result    any
	hasResult bool
	props     map[string]any
	started   []func(*CallContext)
	finished  []func(*CallContext, stream.State)
}

func NewCallContext(ctx context.Context, callID string, action ActionInfo, header metadata.Metadata, channel ChannelType) *CallContext {
	if header == nil {
		header = metadata.Metadata{}
	}
	return &CallContext{
		ctx:     ctx,
		CallID:  callID,
		Action:  action,
		Header:  header,
		Channel: channel,
		Start:   time.Now(),
		props:   map[string]any{},
	}
}

func (c *CallContext) Context() context.Context {
	return c.ctx
}

// SetContext replaces the context passed to the method. It must be derived
// from Context so cancellation keeps working.
func (c *CallContext) SetContext(ctx context.Context) {
	c.ctx = ctx
}

// SetStream hands the request stream (or the client upload) to the call.
func (c *CallContext) SetStream(s io.ReadCloser) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

// TakeStream returns the stream once. Later calls return nil.
func (c *CallContext) TakeStream() io.ReadCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stream
	c.stream = nil
	return s
}

// SetResult stores the call result. It can be set only once.
func (c *CallContext) SetResult(v any) error {
	if isAsync(v) {
		return ErrAsyncResult
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasResult {
		return ErrResultSet
	}
	c.result, c.hasResult = v, true
	return nil
}

// ReplaceResult overrides a result, set or not.
func (c *CallContext) ReplaceResult(v any) error {
	if isAsync(v) {
		return ErrAsyncResult
	}
	c.mu.Lock()
	c.result, c.hasResult = v, true
	c.mu.Unlock()
	return nil
}

func (c *CallContext) Result() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.hasResult
}

func isAsync(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(interface{ Done() <-chan struct{} }); ok {
		return true
	}
	return reflect.TypeOf(v).Kind() == reflect.Chan
}

func (c *CallContext) SetProperty(key string, v any) {
	c.mu.Lock()
	c.props[key] = v
	c.mu.Unlock()
}

func (c *CallContext) Property(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.props[key]
	return v, ok
}

// Properties returns a copy of the properties.
func (c *CallContext) Properties() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.props))
	for k, v := range c.props {
		out[k] = v
	}
	return out
}

// OnStreamStarted registers fn to run when the first chunk of the result
// stream (server) or the upload (client) is sent.
func (c *CallContext) OnStreamStarted(fn func(*CallContext)) {
	c.mu.Lock()
	c.started = append(c.started, fn)
	c.mu.Unlock()
}

func (c *CallContext) OnStreamFinished(fn func(*CallContext, stream.State)) {
	c.mu.Lock()
	c.finished = append(c.finished, fn)
	c.mu.Unlock()
}

func (c *CallContext) NotifyStreamStarted() {
	c.mu.Lock()
	fns := append([]func(*CallContext){}, c.started...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (c *CallContext) NotifyStreamFinished(s stream.State) {
	c.mu.Lock()
	fns := append([]func(*CallContext, stream.State){}, c.finished...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(c, s)
	}
}

func (c *CallContext) Elapsed() time.Duration {
	return time.Since(c.Start)
}
