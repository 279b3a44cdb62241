package contract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/f0mster/netrpc/pkg/fault"
)

// Role is what an argument of a method is used for.
type Role int

const (
	RolePure Role = iota
	RoleStream
	RoleCallback
	RoleCancel
)

func (r Role) String() string {
	switch r {
	case RoleStream:
		return "stream"
	case RoleCallback:
		return "callback"
	case RoleCancel:
		return "cancel"
	}
	return "pure"
}

type ResultKind int

const (
	// ResultNone is a method returning only error.
	ResultNone ResultKind = iota
	ResultValue
	// ResultStream is a method returning an io.Reader.
	ResultStream
	// ResultStructStream is a pointer to struct with one io.Reader field.
	ResultStructStream
)

var (
	ErrNotInterface  = errors.New("contract must be an interface type")
	ErrUnknownMethod = errors.New("unknown method")

	contextType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	readerType     = reflect.TypeOf((*io.Reader)(nil)).Elem()
	readCloserType = reflect.TypeOf((*io.ReadCloser)(nil)).Elem()
)

func IsStreamType(t reflect.Type) bool {
	return t == readerType || t == readCloserType
}

// Method is the metadata of one contract method, computed once.
type Method struct {
	Contract string
	Name     string
	Path     string
	Type     reflect.Type

	Roles     []Role
	PureTypes []reflect.Type

	StreamIndex   int
	CallbackIndex int
	CancelIndex   int

	// CallbackPayload is T of func(T) error or func(context.Context, T) error.
	CallbackPayload     reflect.Type
	CallbackWithContext bool

	Result      ResultKind
	ResultType  reflect.Type
	StreamField int

	FireAndForget bool
	Faults        *fault.Translator
}

func (m *Method) HasStream() bool   { return m.StreamIndex >= 0 }
func (m *Method) HasCallback() bool { return m.CallbackIndex >= 0 }
func (m *Method) HasCancel() bool   { return m.CancelIndex >= 0 }

func (m *Method) String() string {
	return m.Contract + "." + m.Name
}

// Descriptor is the metadata of a contract interface.
type Descriptor struct {
	Name    string
	Type    reflect.Type
	methods map[string]*Method
}

func (d *Descriptor) Method(name string) (*Method, error) {
	m, ok := d.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, d.Name, name)
	}
	return m, nil
}

// Methods returns the methods sorted by name.
func (d *Descriptor) Methods() []*Method {
	out := make([]*Method, 0, len(d.methods))
	for _, m := range d.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type options struct {
	name          string
	fireAndForget map[string]bool
	paths         map[string]string
	faults        map[string][]fault.Mapping
	proto         []ProtoService
	kinds         *fault.Registry
}

type Option func(o *options)

// Name overrides the contract name, the interface type name by default.
func Name(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// FireAndForget marks a method as not expecting any response.
func FireAndForget(method string) Option {
	return func(o *options) {
		o.fireAndForget[method] = true
	}
}

func Path(method, path string) Option {
	return func(o *options) {
		o.paths[method] = path
	}
}

// Faults declares error code mappings for a method.
func Faults(method string, mappings ...fault.Mapping) Option {
	return func(o *options) {
		o.faults[method] = append(o.faults[method], mappings...)
	}
}

// WithProto applies @post, @path and @fault annotations of the proto service
// named like the contract. Fault kinds are resolved in kinds.
func WithProto(services []ProtoService, kinds *fault.Registry) Option {
	return func(o *options) {
		o.proto = services
		o.kinds = kinds
	}
}

// MustDescribe is like Describe but panics on error.
func MustDescribe(iface any, opts ...Option) *Descriptor {
	d, err := Describe(iface, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Describe inspects an interface type given as (*Iface)(nil) or its reflect.Type.
func Describe(iface any, opts ...Option) (*Descriptor, error) {
	t, ok := iface.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(iface)
	}
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Interface {
		return nil, fmt.Errorf("%w: %v", ErrNotInterface, t)
	}
	o := &options{
		name:          t.Name(),
		fireAndForget: map[string]bool{},
		paths:         map[string]string{},
		faults:        map[string][]fault.Mapping{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.applyProto(); err != nil {
		return nil, err
	}

	d := &Descriptor{Name: o.name, Type: t, methods: map[string]*Method{}}
	for i := 0; i < t.NumMethod(); i++ {
		rm := t.Method(i)
		m, err := describeMethod(d.Name, rm.Name, rm.Type)
		if err != nil {
			return nil, err
		}
		m.Path = "/" + d.Name + "/" + m.Name
		if p, ok := o.paths[m.Name]; ok {
			m.Path = p
		}
		m.FireAndForget = o.fireAndForget[m.Name]
		if m.FireAndForget && m.Result != ResultNone {
			return nil, fmt.Errorf("%s: fire-and-forget method must return only error", m)
		}
		m.Faults = fault.NewTranslator(o.faults[m.Name]...)
		d.methods[m.Name] = m
	}
	names := []string{}
	for name := range o.fireAndForget {
		names = append(names, name)
	}
	for name := range o.paths {
		names = append(names, name)
	}
	for name := range o.faults {
		names = append(names, name)
	}
	for _, name := range names {
		if _, ok := d.methods[name]; !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, d.Name, name)
		}
	}
	return d, nil
}

func describeMethod(contract, name string, ft reflect.Type) (*Method, error) {
	m := &Method{
		Contract:      contract,
		Name:          name,
		Type:          ft,
		StreamIndex:   -1,
		CallbackIndex: -1,
		CancelIndex:   -1,
		StreamField:   -1,
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%s: variadic methods are not supported", m)
	}
	for i := 0; i < ft.NumIn(); i++ {
		at := ft.In(i)
		role := RolePure
		switch {
		case at == contextType:
			role = RoleCancel
			if m.CancelIndex >= 0 {
				return nil, fmt.Errorf("%s: more than one context argument", m)
			}
			m.CancelIndex = i
		case IsStreamType(at):
			role = RoleStream
			if m.StreamIndex >= 0 {
				return nil, fmt.Errorf("%s: more than one stream argument", m)
			}
			m.StreamIndex = i
		case at.Kind() == reflect.Func:
			payload, withCtx, err := callbackShape(at)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", m, i, err)
			}
			role = RoleCallback
			if m.CallbackIndex >= 0 {
				return nil, fmt.Errorf("%s: more than one callback argument", m)
			}
			m.CallbackIndex = i
			m.CallbackPayload = payload
			m.CallbackWithContext = withCtx
		default:
			m.PureTypes = append(m.PureTypes, at)
		}
		m.Roles = append(m.Roles, role)
	}

	switch {
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
		m.Result = ResultNone
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		rt := ft.Out(0)
		m.ResultType = rt
		m.Result = ResultValue
		if IsStreamType(rt) {
			m.Result = ResultStream
		} else if rt.Kind() == reflect.Ptr && rt.Elem().Kind() == reflect.Struct {
			idx, err := streamField(rt.Elem())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m, err)
			}
			if idx >= 0 {
				m.Result = ResultStructStream
				m.StreamField = idx
			}
		}
	default:
		return nil, fmt.Errorf("%s: must return error or (T, error)", m)
	}
	return m, nil
}

func callbackShape(t reflect.Type) (payload reflect.Type, withCtx bool, err error) {
	if t.NumOut() != 1 || t.Out(0) != errorType {
		return nil, false, fmt.Errorf("callback must return error")
	}
	switch t.NumIn() {
	case 1:
		return t.In(0), false, nil
	case 2:
		if t.In(0) != contextType {
			return nil, false, fmt.Errorf("callback with two arguments must take context.Context first")
		}
		return t.In(1), true, nil
	}
	return nil, false, fmt.Errorf("callback must take one payload argument")
}

func streamField(st reflect.Type) (int, error) {
	idx := -1
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !IsStreamType(f.Type) {
			continue
		}
		if !f.IsExported() {
			return -1, fmt.Errorf("stream field %s must be exported", f.Name)
		}
		if idx >= 0 {
			return -1, fmt.Errorf("result struct %s has more than one stream field", st)
		}
		idx = i
	}
	return idx, nil
}
