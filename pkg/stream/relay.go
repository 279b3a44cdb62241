package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Sink is the outbound half of a transport a relay writes to.
// Chunks passed to SendChunk are owned by the sink.
type Sink interface {
	SendChunk(ctx context.Context, chunk []byte) error
	SendStreamEnd(ctx context.Context) error
	SendStreamCancelled(ctx context.Context) error
	SendStreamFaulted(ctx context.Context) error
}

// Relay moves one stream to a Sink in chunks.
// Idle -> Sending -> Completed | Cancelled | Faulted.
type Relay struct {
	sink      Sink
	chunkSize int
	state     atomic.Int32
	sent      atomic.Int64
	used      atomic.Bool
	onState   func(State)
}

type RelayOption func(r *Relay)

// OnStateChange is called on every state transition.
func OnStateChange(fn func(State)) RelayOption {
	return func(r *Relay) {
		r.onState = fn
	}
}

func NewRelay(sink Sink, chunkSize int, opts ...RelayOption) *Relay {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	r := &Relay{sink: sink, chunkSize: chunkSize}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Relay) State() State {
	return State(r.state.Load())
}

// Sent returns the number of bytes handed to the sink.
func (r *Relay) Sent() int64 {
	return r.sent.Load()
}

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
	if r.onState != nil {
		r.onState(s)
	}
}

// Send relays src until it is exhausted, ctx is cancelled or an I/O error
// happens. It returns nil when the stream completed, an error wrapping
// ErrStreamCancelled when it was cancelled and one wrapping ErrStreamFaulted
// otherwise. src is always closed or drained before Send returns.
func (r *Relay) Send(ctx context.Context, src io.Reader) error {
	if !r.used.CompareAndSwap(false, true) {
		return ErrRelayUsed
	}
	buf := make([]byte, r.chunkSize)
	for {
		if ctx.Err() != nil {
			return r.cancel(ctx, src)
		}
		n, err := src.Read(buf)
		if n > 0 {
			if r.State() == Idle {
				r.setState(Sending)
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if serr := r.sink.SendChunk(ctx, chunk); serr != nil {
				if ctx.Err() != nil {
					return r.cancel(ctx, src)
				}
				return r.fault(ctx, src, serr)
			}
			r.sent.Add(int64(n))
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			closeSource(src)
			if ctx.Err() != nil {
				return r.cancel(ctx, src)
			}
			if serr := r.sink.SendStreamEnd(ctx); serr != nil {
				r.setState(Faulted)
				return fmt.Errorf("%w: %v", ErrStreamFaulted, serr)
			}
			r.setState(Completed)
			return nil
		case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrStreamCancelled):
			return r.cancel(ctx, src)
		default:
			return r.fault(ctx, src, err)
		}
	}
}

func (r *Relay) cancel(ctx context.Context, src io.Reader) error {
	dispose(src)
	r.setState(Cancelled)
	if err := r.sink.SendStreamCancelled(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("%w: signal: %v", ErrStreamCancelled, err)
	}
	return ErrStreamCancelled
}

func (r *Relay) fault(ctx context.Context, src io.Reader, cause error) error {
	closeSource(src)
	r.setState(Faulted)
	_ = r.sink.SendStreamFaulted(context.WithoutCancel(ctx))
	return fmt.Errorf("%w: %v", ErrStreamFaulted, cause)
}

func closeSource(src io.Reader) {
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}

// dispose releases the source. Sources that can't be closed are drained.
func dispose(src io.Reader) {
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
		return
	}
	_, _ = io.Copy(io.Discard, src)
}
