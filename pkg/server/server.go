package server

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/interfaces/codec"
	contextmarshaller2 "github.com/f0mster/netrpc/pkg/interfaces/contextmarshaller"
	logger2 "github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/middleware"
	"github.com/f0mster/netrpc/pkg/registry"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/stream"
)

type Server struct {
	config     *Config
	id         registry.InstanceId
	coord      *Coordinator
	services   []*contract.Descriptor
	started    int32
	mu         sync.Mutex
	runLock    chan bool
	rootCancel context.CancelFunc
	stops      []context.CancelFunc
}

func NewServer(config Config, opts ...Option) (*Server, error) {
	o := &options{Config: config}
	for _, opt := range opts {
		opt(o)
	}
	o.apply()
	s := &Server{
		config:  &o.Config,
		id:      registry.InstanceId(uuid.NewString()),
		runLock: make(chan bool),
	}
	if err := s.checkConfig(); err != nil {
		return nil, err
	}
	stages := []middleware.CallMiddleware{middleware.Recover(s.config.Logger)}
	if s.config.RPCWrapper != nil {
		stages = append(stages, middleware.FromWrap(s.config.RPCWrapper))
	}
	stages = append(stages, s.config.Middleware...)
	s.coord = NewCoordinator(s.config.Logger, s.config.Codec, s.config.ContextMarshaller, s.config.ChunkSize, stages...)
	return s, nil
}

func (s *Server) checkConfig() error {
	if s.config == nil {
		return fmt.Errorf("you must use NewServer constructor")
	}
	if len(s.config.Transports) == 0 {
		return fmt.Errorf("at least one transport must be set")
	}
	if s.config.ContextMarshaller == nil {
		ctx := contextmarshaller2.DefaultCtxMarshaller{}
		s.config.ContextMarshaller = &ctx
	}
	if s.config.Logger == nil {
		s.config.Logger = &logger2.DefaultLogger{}
	}
	if s.config.Codec == nil {
		s.config.Codec = codec.Default
	}
	if s.config.ChunkSize <= 0 {
		s.config.ChunkSize = stream.DefaultChunkSize
	}
	return nil
}

func (s *Server) GetConfig() Config {
	return *s.config
}

func (s *Server) InstanceID() registry.InstanceId {
	return s.id
}

// Coordinator returns the call coordinator, for transports driven by the host.
func (s *Server) Coordinator() *Coordinator {
	return s.coord
}

// Register exposes impl as the service described by desc. impl is used for every call.
func (s *Server) Register(desc *contract.Descriptor, impl any) error {
	if impl == nil || !reflect.TypeOf(impl).Implements(desc.Type) {
		return fmt.Errorf("%T does not implement %s", impl, desc.Type)
	}
	return s.RegisterFactory(desc, func(context.Context) (any, error) {
		return impl, nil
	})
}

// RegisterFactory exposes the service described by desc; factory resolves
// the instance of each call.
func (s *Server) RegisterFactory(desc *contract.Descriptor, factory Factory) error {
	if atomic.LoadInt32(&s.started) != 0 {
		return fmt.Errorf("server already started")
	}
	if err := s.coord.register(desc, factory); err != nil {
		return err
	}
	s.mu.Lock()
	s.services = append(s.services, desc)
	s.mu.Unlock()
	return nil
}

// Start listens on every transport and blocks until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	noServices := len(s.services) == 0
	s.mu.Unlock()
	if noServices {
		return fmt.Errorf("no service registered")
	}
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("server already started")
	}
	defer atomic.StoreInt32(&s.started, 0)
	if s.config.BeforeStart != nil {
		err := s.config.BeforeStart()
		if err != nil {
			return err
		}
		if atomic.LoadInt32(&s.started) == -1 {
			return nil
		}
	}
	if err := s.listen(); err != nil {
		s.shutdown()
		return err
	}

	if !atomic.CompareAndSwapInt32(&s.started, 1, 2) {
		return nil
	}
	if s.config.AfterStart != nil {
		err := s.config.AfterStart()
		if err != nil {
			_ = s.Stop()
			return err
		}
	}
	if !atomic.CompareAndSwapInt32(&s.started, 2, 3) {
		_ = s.Stop()
		return nil
	}
	<-s.runLock
	return nil
}

func (s *Server) listen() error {
	root, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootCancel = cancel
	for _, desc := range s.services {
		for _, t := range s.config.Transports {
			stop, err := t.Listen(root, desc.Name, s.coord.HandleCall)
			if err != nil {
				return fmt.Errorf("listen %s: %w", desc.Name, err)
			}
			s.stops = append(s.stops, stop)
		}
		if s.config.Registry != nil {
			s.config.Registry.Register(desc.Name, s.id)
		}
		s.config.Logger.Info("service started", desc.Name, "")
	}
	return nil
}

// shutdown unregisters services, stops listening and cancels in-flight calls.
func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.Registry != nil {
		for _, desc := range s.services {
			s.config.Registry.Unregister(desc.Name, s.id)
		}
	}
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
	if s.rootCancel != nil {
		s.rootCancel()
		s.rootCancel = nil
	}
}

func (s *Server) Stop() error {
	var err error
	old := atomic.SwapInt32(&s.started, -1)
	if old == 0 {
		atomic.StoreInt32(&s.started, 0)
		return fmt.Errorf("service wasn't started")
	}
	if old == -1 {
		return nil
	}
	if s.config.BeforeStop != nil {
		err = s.config.BeforeStop()
	}
	s.shutdown()

	if old == 3 {
		s.runLock <- true
	}
	if err == nil && s.config.AfterStop != nil {
		err = s.config.AfterStop()
	}
	return err
}

type Config struct {
	RPCWrapper        middleware.Wrap
	Transports        []rpc.Listener
	Registry          registry.Registry
	ContextMarshaller contextmarshaller2.ContextMarshaller
	Logger            logger2.Logger
	Codec             codec.Codec
	// Middleware runs after Recover and RPCWrapper, in order.
	Middleware []middleware.CallMiddleware
	ChunkSize  int

	// If any of these callback returns error - server will be stopped and no other callback will be called
	BeforeStart func() error
	BeforeStop  func() error
	AfterStart  func() error
	AfterStop   func() error
}

type options struct {
	beforeStart []func() error
	beforeStop  []func() error
	afterStart  []func() error
	afterStop   []func() error
	Config
}

type Option func(o *options)

func RpcWrapper(fn middleware.Wrap) Option {
	return func(o *options) {
		o.RPCWrapper = fn
	}
}

func WithTransport(l rpc.Listener) Option {
	return func(o *options) {
		o.Transports = append(o.Transports, l)
	}
}

func WithMiddleware(m ...middleware.CallMiddleware) Option {
	return func(o *options) {
		o.Middleware = append(o.Middleware, m...)
	}
}

func BeforeStart(fn func() error) Option {
	return func(o *options) {
		o.beforeStart = append(o.beforeStart, fn)
	}
}

func BeforeStop(fn func() error) Option {
	return func(o *options) {
		o.beforeStop = append(o.beforeStop, fn)
	}
}

func AfterStart(fn func() error) Option {
	return func(o *options) {
		o.afterStart = append(o.afterStart, fn)
	}
}

func AfterStop(fn func() error) Option {
	return func(o *options) {
		o.afterStop = append(o.afterStop, fn)
	}
}

// apply merges hooks given as options with the ones set in Config.
func (o *options) apply() {
	o.BeforeStart = chain(o.BeforeStart, o.beforeStart)
	o.BeforeStop = chain(o.BeforeStop, o.beforeStop)
	o.AfterStart = chain(o.AfterStart, o.afterStart)
	o.AfterStop = chain(o.AfterStop, o.afterStop)
}

func chain(first func() error, rest []func() error) func() error {
	if len(rest) == 0 {
		return first
	}
	fns := rest
	if first != nil {
		fns = append([]func() error{first}, rest...)
	}
	return func() error {
		for _, fn := range fns {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	}
}
