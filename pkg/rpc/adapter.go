package rpc

import (
	"context"
	"io"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/stream"
)

// ServerAdapter is the transport side of one inbound call.
// Do not call these methods directly, the server coordinator drives them.
type ServerAdapter interface {
	stream.Sink

	ChannelType() ChannelType
	// Start performs the transport handshake. cancel is called by the adapter
	// when the peer asks to cancel the call.
	Start(ctx context.Context, cancel context.CancelFunc) error
	ReceiveCallParam(ctx context.Context) (*CallParam, error)
	OpenRequestStream(ctx context.Context, length *int64) (io.ReadCloser, error)
	// SendResult reports whether the result stream should be sent.
	SendResult(ctx context.Context, r *Result) (bool, error)
	SendFault(ctx context.Context, d *fault.Descriptor) error
	SendCallback(ctx context.Context, callID string, payload []byte) error
}

// ClientAdapter is the transport side of one outbound call.
// Upload chunks go through the embedded stream.Sink.
type ClientAdapter interface {
	stream.Sink

	Start(ctx context.Context) error
	SendCallParam(ctx context.Context, p *CallParam) error
	SendCancel(ctx context.Context) error
	// Recv returns the next reply of the call: a result, fault or
	// cancellation first, then the chunks and terminal signal of a result stream.
	Recv(ctx context.Context) (*Reply, error)
	Close() error
}

// CallbackSink receives callback notifications routed by call id.
type CallbackSink interface {
	Deliver(callID string, payload []byte) bool
}

type ClientTransport interface {
	NewAdapter(ctx context.Context, callID string, sink CallbackSink) (ClientAdapter, error)
}

// Handler serves one inbound call on a transport.
type Handler func(ctx context.Context, a ServerAdapter) error

// Listener is implemented by server transports. Calls for namespace are
// handed to handle with a context derived from ctx.
type Listener interface {
	Listen(ctx context.Context, namespace string, handle Handler) (context.CancelFunc, error)
}
