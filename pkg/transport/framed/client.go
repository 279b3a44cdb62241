package framed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
)

var ErrSessionClosed = errors.New("session closed")

// Session multiplexes the calls of one client over a Conn.
type Session struct {
	conn Conn
	log  logger.Logger

	mu     sync.Mutex
	calls  map[string]*clientCall
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(ctx context.Context, conn Conn, log logger.Logger) *Session {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		conn:   conn,
		log:    log,
		calls:  map[string]*clientCall{},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.read(ctx)
	return s
}

func (s *Session) read(ctx context.Context) {
	defer close(s.done)
	var err error
	for {
		var f *Frame
		f, err = s.conn.Recv(ctx)
		if err != nil {
			break
		}
		s.mu.Lock()
		c, ok := s.calls[f.ID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		switch f.Kind {
		case KindCallback:
			if c.sink != nil && !c.sink.Deliver(f.ID, f.Data) {
				s.log.Debug("callback dropped for "+f.ID, "", "")
			}
		case KindStart, KindCall, KindCancel:
		default:
			c.replies.Push(f)
		}
	}
	s.mu.Lock()
	s.err = fmt.Errorf("%w: %v", ErrSessionClosed, err)
	calls := s.calls
	s.calls = map[string]*clientCall{}
	s.mu.Unlock()
	for _, c := range calls {
		c.replies.Fail(s.err)
	}
}

// NewAdapter implements rpc.ClientTransport.
func (s *Session) NewAdapter(ctx context.Context, callID string, sink rpc.CallbackSink) (rpc.ClientAdapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if _, ok := s.calls[callID]; ok {
		return nil, fmt.Errorf("call %s already in flight", callID)
	}
	c := &clientCall{s: s, id: callID, sink: sink, replies: NewQueue[*Frame]()}
	s.calls[callID] = c
	return c, nil
}

// Pending returns the number of calls routed by the session.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Close stops the read loop and closes the connection.
func (s *Session) Close() error {
	s.cancel()
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Session) forget(callID string) {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
}

type clientCall struct {
	s       *Session
	id      string
	sink    rpc.CallbackSink
	replies *Queue[*Frame]
}

func (c *clientCall) send(ctx context.Context, f *Frame) error {
	f.ID = c.id
	return c.s.conn.Send(ctx, f)
}

func (c *clientCall) Start(ctx context.Context) error {
	return nil
}

func (c *clientCall) SendCallParam(ctx context.Context, p *rpc.CallParam) error {
	return c.send(ctx, &Frame{Kind: KindCall, Param: p})
}

func (c *clientCall) SendCancel(ctx context.Context) error {
	return c.send(ctx, &Frame{Kind: KindCancel})
}

func (c *clientCall) Recv(ctx context.Context) (*rpc.Reply, error) {
	f, err := c.replies.Pop(ctx)
	if err != nil {
		return nil, err
	}
	return ReplyOf(f)
}

func (c *clientCall) Close() error {
	c.s.forget(c.id)
	if cc, ok := c.s.conn.(CallCloser); ok {
		cc.CloseCall(c.id)
	}
	c.replies.Fail(ErrSessionClosed)
	return nil
}

func (c *clientCall) SendChunk(ctx context.Context, chunk []byte) error {
	return c.send(ctx, &Frame{Kind: KindChunk, Data: chunk})
}

func (c *clientCall) SendStreamEnd(ctx context.Context) error {
	return c.send(ctx, &Frame{Kind: KindEnd})
}

func (c *clientCall) SendStreamCancelled(ctx context.Context) error {
	return c.send(ctx, &Frame{Kind: KindStreamCancelled})
}

func (c *clientCall) SendStreamFaulted(ctx context.Context) error {
	return c.send(ctx, &Frame{Kind: KindStreamFaulted})
}

// ReplyOf converts a server frame to the reply a client adapter returns.
func ReplyOf(f *Frame) (*rpc.Reply, error) {
	switch f.Kind {
	case KindResult:
		return &rpc.Reply{Kind: rpc.ReplyResult, Result: f.Result}, nil
	case KindFault:
		return &rpc.Reply{Kind: rpc.ReplyFault, Fault: f.Fault}, nil
	case KindCancelled:
		return &rpc.Reply{Kind: rpc.ReplyCancelled, Fault: f.Fault}, nil
	case KindChunk:
		return &rpc.Reply{Kind: rpc.ReplyChunk, Data: f.Data}, nil
	case KindEnd:
		return &rpc.Reply{Kind: rpc.ReplyStreamEnd}, nil
	case KindStreamCancelled:
		return &rpc.Reply{Kind: rpc.ReplyStreamCancelled}, nil
	case KindStreamFaulted:
		return &rpc.Reply{Kind: rpc.ReplyStreamFaulted}, nil
	}
	return nil, fmt.Errorf("unexpected %s frame", f.Kind)
}
