package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/pubsub"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/transport/framed"
)

var ErrClosed = errors.New("transport closed")

// CallsTopic is the queue topic the calls of namespace are published to.
func CallsTopic(namespace string) string {
	return pubsub.Topic(namespace, "calls")
}

// Server receives calls from the queue of every listened namespace. Frames
// following a call reach the instance through its own topic.
type Server struct {
	broker     pubsub.Broker
	log        logger.Logger
	topic      string
	dispatcher *framed.Dispatcher
	inbox      *framed.Queue[*framed.Frame]

	mu      sync.Mutex
	replyTo map[string]string
	started bool
	stops   []pubsub.CancelFunc
	cancel  context.CancelFunc
}

var _ rpc.Listener = (*Server)(nil)

func NewServer(broker pubsub.Broker, log logger.Logger) *Server {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	return &Server{
		broker:     broker,
		log:        log,
		topic:      "netrpc.instance." + uuid.NewString(),
		dispatcher: framed.NewDispatcher(rpc.ChannelQueue, log),
		inbox:      framed.NewQueue[*framed.Frame](),
		replyTo:    map[string]string{},
	}
}

// InstanceTopic is the topic of this server instance.
func (s *Server) InstanceTopic() string {
	return s.topic
}

func (s *Server) start() error {
	if s.started {
		return nil
	}
	stop, err := s.broker.SubscribeForTopic(s.topic, s.onFrame)
	if err != nil {
		return err
	}
	s.stops = append(s.stops, stop)
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go func() {
		if err := s.dispatcher.Serve(ctx, s); err != nil && ctx.Err() == nil {
			s.log.Error(err, "queue dispatcher stopped", "", "", s.topic)
		}
	}()
	s.started = true
	return nil
}

// Listen implements rpc.Listener.
func (s *Server) Listen(ctx context.Context, namespace string, handle rpc.Handler) (context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.start(); err != nil {
		return nil, err
	}
	unroute, err := s.dispatcher.Listen(ctx, namespace, handle)
	if err != nil {
		return nil, err
	}
	stop, err := s.broker.QueueSubscribe(CallsTopic(namespace), namespace, s.onCall)
	if err != nil {
		unroute()
		return nil, err
	}
	return func() {
		stop()
		unroute()
	}, nil
}

func (s *Server) onCall(event []byte) error {
	f, err := framed.Decode(event)
	if err != nil {
		s.log.Warn("bad call frame: "+err.Error(), "", "")
		return err
	}
	if f.Kind != framed.KindCall || f.Param == nil {
		return fmt.Errorf("unexpected %s frame on calls topic", f.Kind)
	}
	fireAndForget := f.Param.Action.FireAndForget
	if !fireAndForget {
		s.mu.Lock()
		s.replyTo[f.ID] = f.ReplyTo
		s.mu.Unlock()
	}
	// the call is queued before the handshake, so frames sent after it find the call
	s.inbox.Push(f)
	if fireAndForget {
		return nil
	}
	start := &framed.Frame{ID: f.ID, Kind: framed.KindStart, ReplyTo: s.topic}
	return s.publish(f.ReplyTo, start)
}

func (s *Server) onFrame(event []byte) error {
	f, err := framed.Decode(event)
	if err != nil {
		s.log.Warn("bad frame: "+err.Error(), "", "")
		return err
	}
	s.inbox.Push(f)
	return nil
}

func (s *Server) publish(topic string, f *framed.Frame) error {
	data, err := framed.Encode(f)
	if err != nil {
		return err
	}
	return s.broker.PublishToTopic(topic, data)
}

// Send implements framed.Conn.
func (s *Server) Send(ctx context.Context, f *framed.Frame) error {
	s.mu.Lock()
	to, ok := s.replyTo[f.ID]
	if ok && framed.Terminal(f) {
		delete(s.replyTo, f.ID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no reply topic for call %s", f.ID)
	}
	return s.publish(to, f)
}

// Recv implements framed.Conn.
func (s *Server) Recv(ctx context.Context) (*framed.Frame, error) {
	return s.inbox.Pop(ctx)
}

// Close stops listening; calls in flight are cancelled.
func (s *Server) Close() error {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	cancel := s.cancel
	s.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	s.inbox.Fail(ErrClosed)
	if cancel != nil {
		cancel()
	}
	return nil
}
