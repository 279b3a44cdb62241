package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/transport/framed"
)

const DefaultBacklog = 1024

type dialRequest struct {
	conn     framed.Conn
	accepted chan struct{}
}

// Transport connects clients and servers of one process through pipes.
type Transport struct {
	id      uuid.UUID
	timeout time.Duration
	log     logger.Logger
	backlog chan dialRequest

	dispatcher *framed.Dispatcher
	ctx        context.Context
	cancel     context.CancelFunc

	mutex   sync.Mutex
	session *framed.Session
	conns   []framed.Conn
}

type Option func(t *Transport)

func WithLogger(log logger.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

// WithBacklog sets how many dials may wait for accept.
func WithBacklog(n int) Option {
	return func(t *Transport) {
		t.backlog = make(chan dialRequest, n)
	}
}

func New(timeout time.Duration, opts ...Option) *Transport {
	t := &Transport{
		id:      uuid.New(),
		timeout: timeout,
		log:     &logger.DefaultLogger{},
		backlog: make(chan dialRequest, DefaultBacklog),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dispatcher = framed.NewDispatcher(rpc.ChannelMemory, t.log)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	go t.accept()
	return t
}

func (t *Transport) GetRPCAddress() string {
	return fmt.Sprintf("memory://%s", t.id.String())
}

func (t *Transport) accept() {
	for {
		select {
		case req := <-t.backlog:
			close(req.accepted)
			t.mutex.Lock()
			t.conns = append(t.conns, req.conn)
			t.mutex.Unlock()
			go func() {
				err := t.dispatcher.Serve(t.ctx, req.conn)
				if t.ctx.Err() == nil {
					t.log.Debug("memory connection closed: "+err.Error(), "", "")
				}
				_ = req.conn.Close()
			}()
		case <-t.ctx.Done():
			return
		}
	}
}

// Listen implements rpc.Listener.
func (t *Transport) Listen(ctx context.Context, namespace string, handle rpc.Handler) (context.CancelFunc, error) {
	return t.dispatcher.Listen(ctx, namespace, handle)
}

// Dial opens a new connection to the transport's server side.
func (t *Transport) Dial(ctx context.Context) (*framed.Session, error) {
	if t.ctx.Err() != nil {
		return nil, status.New(codes.Unavailable, "transport closed").Err()
	}
	server, client := framed.Pipe()
	req := dialRequest{conn: server, accepted: make(chan struct{})}

	// if the backlog is full - drop the dial and return ResourceExhausted status.
	select {
	case t.backlog <- req:
	default:
		return nil, status.New(codes.ResourceExhausted, "queue is full").Err()
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case <-req.accepted:
	case <-timer.C:
		_ = server.Close()
		return nil, status.New(codes.DeadlineExceeded, "accept timeout").Err()
	case <-ctx.Done():
		_ = server.Close()
		return nil, ctx.Err()
	}
	return framed.NewSession(t.ctx, client, t.log), nil
}

// NewAdapter implements rpc.ClientTransport on a shared session.
func (t *Transport) NewAdapter(ctx context.Context, callID string, sink rpc.CallbackSink) (rpc.ClientAdapter, error) {
	t.mutex.Lock()
	s := t.session
	t.mutex.Unlock()
	if s == nil {
		var err error
		if s, err = t.Dial(ctx); err != nil {
			return nil, err
		}
		t.mutex.Lock()
		if t.session != nil {
			_ = s.Close()
			s = t.session
		} else {
			t.session = s
		}
		t.mutex.Unlock()
	}
	a, err := s.NewAdapter(ctx, callID, sink)
	if err != nil && t.ctx.Err() == nil {
		// the session died, the next call redials
		t.mutex.Lock()
		if t.session == s {
			t.session = nil
		}
		t.mutex.Unlock()
	}
	return a, err
}

// Close drops every connection; in-flight calls are cancelled.
func (t *Transport) Close() {
	t.cancel()
	t.mutex.Lock()
	s, conns := t.session, t.conns
	t.session, t.conns = nil, nil
	t.mutex.Unlock()
	if s != nil {
		_ = s.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
}
