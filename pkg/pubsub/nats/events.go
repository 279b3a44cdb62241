package nats

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/f0mster/netrpc/pkg/pubsub"
)

// Events is a pubsub.Broker over a NATS connection. NATS calls the handler
// of a subscription sequentially, so events stay ordered per subscription.
type Events struct {
	connection *nats.Conn
	own        bool

	mu   sync.Mutex
	subs map[string]map[*nats.Subscription]bool
}

var _ pubsub.Broker = (*Events)(nil)

func New(addr string, opts ...nats.Option) (inst *Events, err error) {
	conn, err := nats.Connect(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	inst = NewFromConn(conn)
	inst.own = true
	return inst, nil
}

// NewFromConn uses an existing connection; Close leaves it open.
func NewFromConn(conn *nats.Conn) *Events {
	return &Events{connection: conn, subs: map[string]map[*nats.Subscription]bool{}}
}

func (r *Events) Close() {
	r.mu.Lock()
	for _, subs := range r.subs {
		for s := range subs {
			_ = s.Unsubscribe()
		}
	}
	r.subs = map[string]map[*nats.Subscription]bool{}
	r.mu.Unlock()
	if r.own {
		r.connection.Close()
	}
}

func (r *Events) PublishToTopic(topic string, eventData []byte) error {
	return r.connection.Publish(topic, eventData)
}

func (r *Events) Publish(namespace string, eventName string, eventData []byte) error {
	return r.PublishToTopic(pubsub.Topic(namespace, eventName), eventData)
}

func (r *Events) track(topic string, s *nats.Subscription) pubsub.CancelFunc {
	r.mu.Lock()
	if r.subs[topic] == nil {
		r.subs[topic] = map[*nats.Subscription]bool{}
	}
	r.subs[topic][s] = true
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs[topic], s)
		r.mu.Unlock()
		_ = s.Unsubscribe()
	}
}

func handler(callback func(event []byte) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		_ = callback(msg.Data)
	}
}

func (r *Events) SubscribeForTopic(topic string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	s, err := r.connection.Subscribe(topic, handler(callback))
	if err != nil {
		return nil, err
	}
	if err := r.connection.Flush(); err != nil {
		_ = s.Unsubscribe()
		return nil, err
	}
	return r.track(topic, s), nil
}

func (r *Events) QueueSubscribe(topic string, group string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	s, err := r.connection.QueueSubscribe(topic, group, handler(callback))
	if err != nil {
		return nil, err
	}
	if err := r.connection.Flush(); err != nil {
		_ = s.Unsubscribe()
		return nil, err
	}
	return r.track(topic, s), nil
}

func (r *Events) UnsubscribeFromTopic(topic string) {
	r.mu.Lock()
	subs := r.subs[topic]
	delete(r.subs, topic)
	r.mu.Unlock()
	for s := range subs {
		_ = s.Unsubscribe()
	}
}

func (r *Events) Subscribe(namespace string, eventName string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	return r.SubscribeForTopic(pubsub.Topic(namespace, eventName), callback)
}

func (r *Events) Unsubscribe(namespace string, eventName string) {
	r.UnsubscribeFromTopic(pubsub.Topic(namespace, eventName))
}
