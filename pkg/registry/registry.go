// Package registry tracks which server instances serve a contract.
//
// Namespaces are contract names. Servers register one instance per contract
// on start and unregister it on stop; clients watch a namespace to know when
// calls can be routed.
package registry

type InstanceId string

type CancelFunc func()

type Registerer interface {
	Register(namespace string, instanceId InstanceId)
	Unregister(namespace string, instanceId InstanceId)
}

// Watcher callbacks keep firing until their CancelFunc is called.
type Watcher interface {
	// WatchRegistered fires when a namespace gets its first instance.
	WatchRegistered(namespace string, onchange func()) CancelFunc
	// WatchUnregistered fires when the last instance of a namespace is gone.
	WatchUnregistered(namespace string, onchange func()) CancelFunc
	WatchInstanceRegistered(namespace string, onchange func(instanceId InstanceId)) CancelFunc
	WatchInstanceUnregistered(namespace string, onchange func(instanceId InstanceId)) CancelFunc
	// Instances returns a copy of the instances registered under namespace.
	Instances(namespace string) map[InstanceId]bool
}

type Registry interface {
	Registerer
	Watcher
}
