package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/pubsub"
)

var ErrNoActiveBrokers = errors.New("failed to find active brokers")

// Events is a pubsub.Broker over kafka. Every subscription is a consumer
// group of its own, so it sees every event; queue members share their group.
type Events struct {
	client       sarama.Client
	syncProducer sarama.SyncProducer
	config       *sarama.Config
	prefix       string
	log          logger.Logger

	m      sync.Mutex
	topics map[string]bool
	subs   map[string]map[*Consumer]bool
}

var _ pubsub.Broker = (*Events)(nil)

func New(config *sarama.Config, brokers []string, log logger.Logger) (*Events, error) {
	return NewWithPrefix(config, brokers, "", log)
}

func NewWithPrefix(config *sarama.Config, brokers []string, prefix string, log logger.Logger) (*Events, error) {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Events{
		client:       client,
		syncProducer: producer,
		config:       config,
		prefix:       prefix,
		log:          log,
		topics:       map[string]bool{},
		subs:         map[string]map[*Consumer]bool{},
	}, nil
}

func (r *Events) Close() {
	r.m.Lock()
	var all []*Consumer
	for _, subs := range r.subs {
		for c := range subs {
			all = append(all, c)
		}
	}
	r.subs = map[string]map[*Consumer]bool{}
	r.m.Unlock()
	for _, c := range all {
		c.close()
	}
	_ = r.syncProducer.Close()
	_ = r.client.Close()
}

// ensureTopic creates topic with one partition, so events stay ordered.
func (r *Events) ensureTopic(topic string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.topics[topic] {
		return nil
	}
	brokers := r.client.Brokers()
	if len(brokers) < 1 {
		return ErrNoActiveBrokers
	} else if ok, err := brokers[0].Connected(); err != nil {
		return err
	} else if !ok {
		if err := brokers[0].Open(r.config); err != nil && !errors.Is(err, sarama.ErrAlreadyConnected) {
			return err
		}
	}
	admin, err := sarama.NewClusterAdminFromClient(r.client)
	if err != nil {
		return err
	}
	topics, err := admin.ListTopics()
	if err != nil {
		return err
	}
	if _, ok := topics[topic]; !ok {
		err = admin.CreateTopic(topic, &sarama.TopicDetail{
			NumPartitions:     1,
			ReplicationFactor: 1,
			ConfigEntries:     map[string]*string{},
		}, false)
		var se *sarama.TopicError
		if err != nil && !(errors.As(err, &se) && se.Err == sarama.ErrTopicAlreadyExists) {
			return err
		}
	}
	r.topics[topic] = true
	return nil
}

func (r *Events) PublishToTopic(topic string, eventData []byte) error {
	topic = r.prefix + topic
	if err := r.ensureTopic(topic); err != nil {
		return err
	}
	_, _, err := r.syncProducer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(eventData),
	})
	return err
}

func (r *Events) Publish(namespace string, eventName string, event []byte) error {
	return r.PublishToTopic(pubsub.Topic(namespace, eventName), event)
}

func (r *Events) SubscribeForTopic(topic string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	return r.consume(topic, "netrpc-"+uuid.NewString(), callback)
}

func (r *Events) QueueSubscribe(topic string, group string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	return r.consume(topic, r.prefix+group, callback)
}

func (r *Events) consume(topic, group string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	key := topic
	topic = r.prefix + topic
	if err := r.ensureTopic(topic); err != nil {
		return nil, err
	}
	cg, err := sarama.NewConsumerGroupFromClient(group, r.client)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		callback: callback,
		cg:       cg,
		cancel:   cancel,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		for {
			// `Consume` should be called inside an infinite loop, when a
			// server-side rebalance happens, the consumer session will need to be
			// recreated to get the new claims
			if err := cg.Consume(ctx, []string{topic}, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				r.log.Error(err, "kafka consume failed", topic, group, "")
			}
			// check if context was cancelled, signaling that the consumer should stop
			if ctx.Err() != nil {
				return
			}
		}
	}()
	select {
	case <-c.ready: // Await till the consumer has been set up
	case <-c.done:
		return nil, fmt.Errorf("consumer group %s stopped before setup", group)
	}

	r.m.Lock()
	if r.subs[key] == nil {
		r.subs[key] = map[*Consumer]bool{}
	}
	r.subs[key][c] = true
	r.m.Unlock()
	return func() {
		r.m.Lock()
		delete(r.subs[key], c)
		r.m.Unlock()
		c.close()
	}, nil
}

func (r *Events) UnsubscribeFromTopic(topic string) {
	r.m.Lock()
	subs := r.subs[topic]
	delete(r.subs, topic)
	r.m.Unlock()
	for c := range subs {
		c.close()
	}
}

func (r *Events) Subscribe(namespace string, eventName string, callback func(event []byte) error) (pubsub.CancelFunc, error) {
	return r.SubscribeForTopic(pubsub.Topic(namespace, eventName), callback)
}

func (r *Events) Unsubscribe(namespace string, eventName string) {
	r.UnsubscribeFromTopic(pubsub.Topic(namespace, eventName))
}

// Consumer represents a Sarama consumer group consumer
type Consumer struct {
	callback  func(event []byte) error
	cg        sarama.ConsumerGroup
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func (consumer *Consumer) close() {
	consumer.closeOnce.Do(func() {
		consumer.cancel()
		_ = consumer.cg.Close()
		<-consumer.done
	})
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (consumer *Consumer) Setup(sarama.ConsumerGroupSession) error {
	// Mark the consumer as ready
	consumer.readyOnce.Do(func() { close(consumer.ready) })
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited
func (consumer *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages().
func (consumer *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	// NOTE:
	// Do not move the code below to a goroutine.
	// The `ConsumeClaim` itself is called within a goroutine, see:
	// https://github.com/Shopify/sarama/blob/master/consumer_group.go#L27-L29
	for message := range claim.Messages() {
		_ = consumer.callback(message.Value)
		session.MarkMessage(message, "")
	}
	return nil
}
