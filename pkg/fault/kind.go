package fault

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Kind knows how to recognise one error type and how to build it back from a payload.
type Kind struct {
	Name  string
	typ   reflect.Type
	match func(err error) (error, bool)
	build func(message string, detail json.RawMessage) error
}

func (k Kind) Type() reflect.Type {
	return k.typ
}

func (k Kind) Match(err error) (error, bool) {
	if k.match == nil {
		return nil, false
	}
	return k.match(err)
}

// New builds an error of the kind. detail, when present, is decoded over the
// constructed value.
func (k Kind) New(message string, detail json.RawMessage) error {
	return k.build(message, detail)
}

// KindOf declares an error kind for type E. withMessage is tried first; when it
// is nil E must be a struct or a pointer to struct so a zero value can be built.
// KindOf panics when E can't be constructed at all.
func KindOf[E error](name string, withMessage func(message string) E) Kind {
	t := reflect.TypeOf((*E)(nil)).Elem()
	if withMessage == nil && !zeroConstructible(t) {
		panic(fmt.Sprintf("fault: kind %q: type %s has no constructor", name, t))
	}
	return Kind{
		Name: name,
		typ:  t,
		match: func(err error) (error, bool) {
			var e E
			if errors.As(err, &e) {
				return e, true
			}
			return nil, false
		},
		build: func(message string, detail json.RawMessage) error {
			var e E
			if withMessage != nil {
				e = withMessage(message)
			} else {
				e = newZero(t).(E)
			}
			if len(detail) > 0 {
				_ = json.Unmarshal(detail, &e)
			}
			return e
		},
	}
}

func zeroConstructible(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct:
		return true
	case reflect.Ptr:
		return t.Elem().Kind() == reflect.Struct
	}
	return false
}

func newZero(t reflect.Type) any {
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.Zero(t).Interface()
}

// Mapping binds an error code to a kind for one method.
type Mapping struct {
	Code       string
	Kind       Kind
	StatusCode int
}

func (m Mapping) status() int {
	if m.StatusCode == 0 {
		return StatusFault
	}
	return m.StatusCode
}

// Registry holds kinds by name so declarations made outside Go code
// (proto annotations) can be resolved.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: map[string]Kind{}}
	for _, k := range kinds {
		r.kinds[k.Name] = k
	}
	return r
}

func (r *Registry) Register(k Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kinds[k.Name]; ok {
		return fmt.Errorf("fault kind %q already registered", k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

func (r *Registry) Lookup(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}
