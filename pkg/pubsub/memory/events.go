package memory

import (
	"sync"
	"sync/atomic"

	"github.com/f0mster/netrpc/pkg/pubsub"
)

// mailbox is an unbounded FIFO drained by one or more pumps.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events [][]byte
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) put(event []byte) {
	m.mu.Lock()
	if !m.closed {
		m.events = append(m.events, event)
	}
	m.mu.Unlock()
	m.cond.Signal()
}

func (m *mailbox) take(stopped *atomic.Bool) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.events) == 0 && !m.closed && !stopped.Load() {
		m.cond.Wait()
	}
	if m.closed || stopped.Load() {
		return nil, false
	}
	e := m.events[0]
	m.events[0] = nil
	m.events = m.events[1:]
	return e, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.events = nil
	m.mu.Unlock()
	m.cond.Broadcast()
}

type member struct {
	box     *mailbox
	stopped atomic.Bool
}

func (m *member) pump(callback func(event []byte) error) {
	for {
		e, ok := m.box.take(&m.stopped)
		if !ok {
			return
		}
		_ = callback(e)
	}
}

func (m *member) stop() {
	m.stopped.Store(true)
	m.box.mu.Lock()
	m.box.mu.Unlock()
	m.box.cond.Broadcast()
}

type group struct {
	box     *mailbox
	members map[int64]*member
}

type topic struct {
	subscribers map[int64]*member
	groups      map[string]*group
}

// Events is an in-process pubsub.Broker.
type Events struct {
	mu     sync.Mutex
	lastID int64
	topics map[string]*topic
}

var _ pubsub.Broker = (*Events)(nil)

func New() (inst *Events) {
	return &Events{topics: map[string]*topic{}}
}

func (r *Events) topic(name string) *topic {
	t, ok := r.topics[name]
	if !ok {
		t = &topic{subscribers: map[int64]*member{}, groups: map[string]*group{}}
		r.topics[name] = t
	}
	return t
}

func (r *Events) PublishToTopic(name string, eventData []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return nil
	}
	for _, s := range t.subscribers {
		s.box.put(eventData)
	}
	for _, g := range t.groups {
		g.box.put(eventData)
	}
	return nil
}

func (r *Events) SubscribeForTopic(name string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.topic(name)
	r.lastID++
	id := r.lastID
	s := &member{box: newMailbox()}
	t.subscribers[id] = s
	go s.pump(callback)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if t.subscribers[id] == s {
			delete(t.subscribers, id)
			s.box.close()
			r.dropIfEmpty(name, t)
		}
	}, nil
}

func (r *Events) QueueSubscribe(name string, groupName string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.topic(name)
	g, ok := t.groups[groupName]
	if !ok {
		g = &group{box: newMailbox(), members: map[int64]*member{}}
		t.groups[groupName] = g
	}
	r.lastID++
	id := r.lastID
	m := &member{box: g.box}
	g.members[id] = m
	go m.pump(callback)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if g.members[id] != m {
			return
		}
		delete(g.members, id)
		m.stop()
		if len(g.members) == 0 {
			g.box.close()
			if t.groups[groupName] == g {
				delete(t.groups, groupName)
			}
			r.dropIfEmpty(name, t)
		}
	}, nil
}

func (r *Events) dropIfEmpty(name string, t *topic) {
	if len(t.subscribers) == 0 && len(t.groups) == 0 && r.topics[name] == t {
		delete(r.topics, name)
	}
}

// UnsubscribeFromTopic drops every subscription and group of topic.
func (r *Events) UnsubscribeFromTopic(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return
	}
	for _, s := range t.subscribers {
		s.box.close()
	}
	for _, g := range t.groups {
		g.box.close()
	}
	delete(r.topics, name)
}

func (r *Events) Close() {
	r.mu.Lock()
	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	r.mu.Unlock()
	for _, name := range names {
		r.UnsubscribeFromTopic(name)
	}
}

func (r *Events) Publish(namespace string, eventName string, eventData []byte) (err error) {
	return r.PublishToTopic(pubsub.Topic(namespace, eventName), eventData)
}

func (r *Events) Unsubscribe(namespace string, eventName string) {
	r.UnsubscribeFromTopic(pubsub.Topic(namespace, eventName))
}

func (r *Events) Subscribe(namespace string, eventName string, callback func(event []byte) error) (cancel pubsub.CancelFunc, err error) {
	return r.SubscribeForTopic(pubsub.Topic(namespace, eventName), callback)
}
