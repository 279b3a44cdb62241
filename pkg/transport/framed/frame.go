package framed

import (
	"context"
	"encoding/json"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/rpc"
)

type Kind string

const (
	KindCall            Kind = "call"
	KindStart           Kind = "start"
	KindResult          Kind = "result"
	KindFault           Kind = "fault"
	KindCancelled       Kind = "cancelled"
	KindCallback        Kind = "callback"
	KindChunk           Kind = "chunk"
	KindEnd             Kind = "end"
	KindStreamCancelled Kind = "stream-cancelled"
	KindStreamFaulted   Kind = "stream-faulted"
	KindCancel          Kind = "cancel"
)

// Frame is one message of the framed protocol. ID is the call id.
type Frame struct {
	ID      string            `json:"id"`
	Kind    Kind              `json:"kind"`
	Param   *rpc.CallParam    `json:"param,omitempty"`
	Result  *rpc.Result       `json:"result,omitempty"`
	Fault   *fault.Descriptor `json:"fault,omitempty"`
	Data    []byte            `json:"data,omitempty"`
	ReplyTo string            `json:"replyTo,omitempty"`
}

func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

func Decode(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Conn is a duplex frame connection. Send must be safe for concurrent use.
type Conn interface {
	Send(ctx context.Context, f *Frame) error
	Recv(ctx context.Context) (*Frame, error)
	Close() error
}

// CallCloser is implemented by conns that keep state per call. The session
// calls CloseCall when the adapter of the call is closed.
type CallCloser interface {
	CloseCall(callID string)
}

// Terminal reports whether f is the last frame the server sends for a call.
func Terminal(f *Frame) bool {
	switch f.Kind {
	case KindFault, KindCancelled, KindEnd, KindStreamCancelled, KindStreamFaulted:
		return true
	case KindResult:
		return f.Result == nil || !f.Result.HasStream
	}
	return false
}
