package memory

import (
	"sync"

	"github.com/f0mster/netrpc/pkg/registry"
)

type event int

const (
	firstRegistered event = iota
	lastUnregistered
	instanceRegistered
	instanceUnregistered
)

type watcher struct {
	on       event
	changed  func()
	instance func(instanceId registry.InstanceId)
}

func (w *watcher) fire(id registry.InstanceId) {
	if w.instance != nil {
		go w.instance(id)
		return
	}
	go w.changed()
}

type namespace struct {
	instances map[registry.InstanceId]bool
	watchers  map[int64]*watcher
}

// Registry keeps service instances of one process. Watchers are notified on
// their own goroutines.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	reg    map[string]*namespace
}

func New() *Registry {
	return &Registry{reg: map[string]*namespace{}}
}

func (m *Registry) ns(name string) *namespace {
	n, ok := m.reg[name]
	if !ok {
		n = &namespace{
			instances: map[registry.InstanceId]bool{},
			watchers:  map[int64]*watcher{},
		}
		m.reg[name] = n
	}
	return n
}

func (m *Registry) notify(n *namespace, on event, id registry.InstanceId) {
	for _, w := range n.watchers {
		if w.on == on {
			w.fire(id)
		}
	}
}

func (m *Registry) Register(namespace string, instanceId registry.InstanceId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.ns(namespace)
	if n.instances[instanceId] {
		return
	}
	n.instances[instanceId] = true
	if len(n.instances) == 1 {
		m.notify(n, firstRegistered, instanceId)
	}
	m.notify(n, instanceRegistered, instanceId)
}

func (m *Registry) Unregister(namespace string, instanceId registry.InstanceId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.ns(namespace)
	if !n.instances[instanceId] {
		return
	}
	delete(n.instances, instanceId)
	m.notify(n, instanceUnregistered, instanceId)
	if len(n.instances) == 0 {
		m.notify(n, lastUnregistered, instanceId)
	}
}

func (m *Registry) Instances(namespace string) map[registry.InstanceId]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := map[registry.InstanceId]bool{}
	for k, v := range m.ns(namespace).instances {
		resp[k] = v
	}
	return resp
}

func (m *Registry) watch(namespace string, w *watcher) registry.CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.ns(namespace)
	m.nextID++
	id := m.nextID
	n.watchers[id] = w
	if w.on == instanceRegistered {
		for inst := range n.instances {
			w.fire(inst)
		}
	}
	once := sync.Once{}
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(n.watchers, id)
			m.mu.Unlock()
		})
	}
}

func (m *Registry) WatchRegistered(namespace string, onchange func()) registry.CancelFunc {
	return m.watch(namespace, &watcher{on: firstRegistered, changed: onchange})
}

func (m *Registry) WatchUnregistered(namespace string, onchange func()) registry.CancelFunc {
	return m.watch(namespace, &watcher{on: lastUnregistered, changed: onchange})
}

// WatchInstanceRegistered also reports the instances already registered.
func (m *Registry) WatchInstanceRegistered(namespace string, onchange func(instanceId registry.InstanceId)) registry.CancelFunc {
	return m.watch(namespace, &watcher{on: instanceRegistered, instance: onchange})
}

func (m *Registry) WatchInstanceUnregistered(namespace string, onchange func(instanceId registry.InstanceId)) registry.CancelFunc {
	return m.watch(namespace, &watcher{on: instanceUnregistered, instance: onchange})
}
