package callback

import (
	"errors"
	"fmt"
	"sync"
)

var ErrDuplicateCall = errors.New("call id already registered")

// Handler receives the notifications of one call, in the order they were sent.
type Handler func(payload []byte)

// Table routes out of band notifications to the subscriber of their call id.
// The lock is held only for register, deliver and unregister.
type Table struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewTable() *Table {
	return &Table{subs: map[string]*Subscription{}}
}

// Subscription is one registered call. Notifications are queued without bound
// and handed to the handler by a single goroutine.
type Subscription struct {
	callID  string
	handler Handler

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	stopped bool
	done    chan struct{}
}

func (s *Subscription) CallID() string {
	return s.callID
}

func (t *Table) Register(callID string, handler Handler) (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[callID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, callID)
	}
	s := &Subscription{
		callID:  callID,
		handler: handler,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	t.subs[callID] = s
	go s.pump()
	return s, nil
}

// Deliver queues payload for callID. It reports false when nobody is
// registered under that id; the payload is dropped then.
func (t *Table) Deliver(callID string, payload []byte) bool {
	t.mu.Lock()
	s, ok := t.subs[callID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return s.push(payload)
}

// Unregister removes the subscription of callID, hands it the notifications
// already queued and waits for its handler to return. Only the first call
// for an id has an effect.
func (t *Table) Unregister(callID string) {
	t.mu.Lock()
	s, ok := t.subs[callID]
	delete(t.subs, callID)
	t.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
	<-s.done
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (s *Subscription) push(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.queue = append(s.queue, payload)
	s.cond.Signal()
	return true
}

func (s *Subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Subscription) pump() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		payload := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		if s.handler != nil {
			s.handler(payload)
		}
	}
}
