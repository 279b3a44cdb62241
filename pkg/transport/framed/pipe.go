package framed

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pipe returns the two ends of an in-process connection. Frames are encoded
// on Send, so peers never share memory.
func Pipe() (Conn, Conn) {
	a := &pipeConn{in: NewQueue[[]byte](), closed: make(chan struct{})}
	b := &pipeConn{in: NewQueue[[]byte](), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeConn struct {
	in   *Queue[[]byte]
	peer *pipeConn

	once   sync.Once
	closed chan struct{}
}

func errClosedPipe() error {
	return status.New(codes.Unavailable, "connection closed").Err()
}

func (p *pipeConn) Send(ctx context.Context, f *Frame) error {
	select {
	case <-p.closed:
		return errClosedPipe()
	case <-p.peer.closed:
		return errClosedPipe()
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	data, err := Encode(f)
	if err != nil {
		return err
	}
	p.peer.in.Push(data)
	return nil
}

func (p *pipeConn) Recv(ctx context.Context) (*Frame, error) {
	data, err := p.in.Pop(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func (p *pipeConn) Close() error {
	p.once.Do(func() {
		close(p.closed)
		p.in.Fail(errClosedPipe())
		p.peer.in.Fail(errClosedPipe())
	})
	return nil
}
