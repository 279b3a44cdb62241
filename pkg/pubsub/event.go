// Package pubsub is the message bus the mq transport runs on. Backends live in
// the memory, nats, redis and kafka subpackages.
package pubsub

type Publisher interface {
	Publish(namespace string, eventName string, event []byte) error
	PublishToTopic(topic string, event []byte) error
}

type CancelFunc func()

// Subscriber delivers every event of a topic to every subscription, in
// publish order per subscription.
type Subscriber interface {
	Subscribe(namespace string, eventName string, callback func(event []byte) error) (CancelFunc, error)
	Unsubscribe(namespace string, eventName string)
	SubscribeForTopic(topic string, callback func(event []byte) error) (CancelFunc, error)
	UnsubscribeFromTopic(topic string)
}

// QueueSubscriber delivers each event of a topic to one member of group.
type QueueSubscriber interface {
	QueueSubscribe(topic string, group string, callback func(event []byte) error) (CancelFunc, error)
}

type PubSub interface {
	Publisher
	Subscriber
}

// Broker is a PubSub with queue groups, as message-queue transports need.
type Broker interface {
	PubSub
	QueueSubscriber
	Close()
}

func Topic(namespace string, eventName string) string {
	return namespace + "." + eventName
}
