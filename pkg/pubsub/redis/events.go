package redis

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mediocregopher/radix/v3"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/pubsub"
)

// pollInterval bounds how long a queue member sleeps without a notification.
const pollInterval = time.Second

type subscription struct {
	topic   string
	msgCh   chan radix.PubSubMessage
	stop    chan struct{}
	stopped sync.Once
}

// Event is a pubsub.Broker over redis. Fan-out uses PUBLISH/SUBSCRIBE; queue
// groups are lists filled with RPUSH and drained with LPOP by the members,
// woken up through a notification channel.
type Event struct {
	pool   *radix.Pool
	pubsub radix.PubSubConn
	log    logger.Logger

	mu   sync.Mutex
	subs map[string]map[*subscription]bool
}

var _ pubsub.Broker = (*Event)(nil)

func New(network, addr string, poolSize int, log logger.Logger) (inst *Event, err error) {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	inst = &Event{log: log, subs: map[string]map[*subscription]bool{}}
	inst.pubsub, err = radix.PersistentPubSubWithOpts(network, addr)
	if err != nil {
		return nil, fmt.Errorf("radix pubsub create error: %w", err)
	}
	inst.pool, err = radix.NewPool(network, addr, poolSize)
	if err != nil {
		_ = inst.pubsub.Close()
		return nil, fmt.Errorf("radix pool create error: %w", err)
	}
	return inst, nil
}

func (r *Event) Close() {
	r.mu.Lock()
	var all []*subscription
	for _, subs := range r.subs {
		for s := range subs {
			all = append(all, s)
		}
	}
	r.subs = map[string]map[*subscription]bool{}
	r.mu.Unlock()
	for _, s := range all {
		r.cancel(s)
	}
	_ = r.pubsub.Close()
	_ = r.pool.Close()
}

func groupsKey(topic string) string {
	return topic + ":groups"
}

func queueKey(topic, group string) string {
	return topic + ":queue:" + group
}

func notifyChannel(topic, group string) string {
	return topic + ":notify:" + group
}

func (r *Event) PublishToTopic(topic string, eventData []byte) error {
	if err := r.pool.Do(radix.Cmd(nil, "PUBLISH", topic, string(eventData))); err != nil {
		return err
	}
	var groups []string
	if err := r.pool.Do(radix.Cmd(&groups, "SMEMBERS", groupsKey(topic))); err != nil {
		return err
	}
	for _, g := range groups {
		if err := r.pool.Do(radix.Cmd(nil, "RPUSH", queueKey(topic, g), string(eventData))); err != nil {
			return err
		}
		if err := r.pool.Do(radix.Cmd(nil, "PUBLISH", notifyChannel(topic, g), "1")); err != nil {
			return err
		}
	}
	return nil
}

func (r *Event) Publish(namespace string, eventName string, eventData []byte) error {
	return r.PublishToTopic(pubsub.Topic(namespace, eventName), eventData)
}

func (r *Event) track(topic string, s *subscription) pubsub.CancelFunc {
	r.mu.Lock()
	if r.subs[topic] == nil {
		r.subs[topic] = map[*subscription]bool{}
	}
	r.subs[topic][s] = true
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs[topic], s)
		r.mu.Unlock()
		r.cancel(s)
	}
}

func (r *Event) cancel(s *subscription) {
	s.stopped.Do(func() {
		_ = r.pubsub.Unsubscribe(s.msgCh, s.topic)
		close(s.stop)
	})
}

func (r *Event) SubscribeForTopic(topic string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	s := &subscription{
		topic: topic,
		msgCh: make(chan radix.PubSubMessage, 10000),
		stop:  make(chan struct{}),
	}
	if err := r.pubsub.Subscribe(s.msgCh, topic); err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case msg := <-s.msgCh:
				if err := callback(msg.Message); err != nil {
					r.log.Debug("event callback failed: "+err.Error(), topic, "")
				}
			case <-s.stop:
				return
			}
		}
	}()
	return r.track(topic, s), nil
}

func (r *Event) QueueSubscribe(topic string, group string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	if err := r.pool.Do(radix.Cmd(nil, "SADD", groupsKey(topic), group)); err != nil {
		return nil, err
	}
	s := &subscription{
		topic: notifyChannel(topic, group),
		msgCh: make(chan radix.PubSubMessage, 16),
		stop:  make(chan struct{}),
	}
	if err := r.pubsub.Subscribe(s.msgCh, s.topic); err != nil {
		return nil, err
	}
	key := queueKey(topic, group)
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			// drain notifications first, so one arriving during LPOP wakes us again
			for len(s.msgCh) > 0 {
				<-s.msgCh
			}
			for {
				var event []byte
				err := r.pool.Do(radix.Cmd(&event, "LPOP", key))
				if err != nil && !errors.Is(err, io.EOF) {
					r.log.Error(err, "queue pop failed", topic, group, key)
					break
				}
				if event == nil {
					break
				}
				if err := callback(event); err != nil {
					r.log.Debug("event callback failed: "+err.Error(), topic, group)
				}
				select {
				case <-s.stop:
					return
				default:
				}
			}
			select {
			case <-s.msgCh:
			case <-ticker.C:
			case <-s.stop:
				return
			}
		}
	}()
	return r.track(topic, s), nil
}

func (r *Event) UnsubscribeFromTopic(topic string) {
	r.mu.Lock()
	subs := r.subs[topic]
	delete(r.subs, topic)
	r.mu.Unlock()
	for s := range subs {
		r.cancel(s)
	}
}

func (r *Event) Subscribe(namespace string, eventName string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	return r.SubscribeForTopic(pubsub.Topic(namespace, eventName), callback)
}

func (r *Event) Unsubscribe(namespace string, eventName string) {
	r.UnsubscribeFromTopic(pubsub.Topic(namespace, eventName))
}
