package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/f0mster/netrpc/pkg/callback"
	"github.com/f0mster/netrpc/pkg/interfaces/codec"
	"github.com/f0mster/netrpc/pkg/interfaces/contextmarshaller"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/middleware"
	"github.com/f0mster/netrpc/pkg/registry"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/stream"
)

const DefaultCancelGrace = 3 * time.Second

var ErrServiceNotStarted = errors.New("service not started")

type Config struct {
	RPCWrapper        middleware.Wrap
	Transport         rpc.ClientTransport
	Registry          registry.Registry
	ContextMarshaller contextmarshaller.ContextMarshaller
	Logger            logger.Logger
	Codec             codec.Codec
	// Middleware runs around every call, after RPCWrapper.
	Middleware []middleware.CallMiddleware
	ChunkSize  int
	// CancelGrace bounds sending a cancel request and waiting for its acknowledgement.
	CancelGrace time.Duration
}

type Client struct {
	config    Config
	callbacks *callback.Table
	handler   middleware.CallHandler
	mu        sync.Mutex
	ready     map[string]bool
}

func NewClient(config Config) (*Client, error) {
	if config.ContextMarshaller == nil {
		config.ContextMarshaller = &contextmarshaller.DefaultCtxMarshaller{}
	}
	if config.Logger == nil {
		config.Logger = &logger.DefaultLogger{}
	}
	if config.Codec == nil {
		config.Codec = codec.Default
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = stream.DefaultChunkSize
	}
	if config.CancelGrace <= 0 {
		config.CancelGrace = DefaultCancelGrace
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("transport must be set")
	}
	c := &Client{
		config:    config,
		callbacks: callback.NewTable(),
		ready:     map[string]bool{},
	}
	var stages []middleware.CallMiddleware
	if config.RPCWrapper != nil {
		stages = append(stages, middleware.FromWrap(config.RPCWrapper))
	}
	stages = append(stages, config.Middleware...)
	c.handler = middleware.Build(c.invoke, stages...)
	return c, nil
}

func (c *Client) GetConfig() Config {
	return c.config
}

// Pending returns the number of calls waiting for callbacks.
func (c *Client) Pending() int {
	return c.callbacks.Len()
}

func (c *Client) serviceReady(serviceName string) bool {
	if c.config.Registry == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ready, ok := c.ready[serviceName]
	if !ok {
		c.config.Registry.WatchRegistered(serviceName, func() {
			c.mu.Lock()
			c.ready[serviceName] = true
			c.mu.Unlock()
		})
		c.config.Registry.WatchUnregistered(serviceName, func() {
			c.mu.Lock()
			c.ready[serviceName] = false
			c.mu.Unlock()
		})
		ready = len(c.config.Registry.Instances(serviceName)) > 0
		c.ready[serviceName] = ready
	}
	return ready
}

// WaitForServiceStarted blocks until an instance of serviceName is registered.
func (c *Client) WaitForServiceStarted(ctx context.Context, serviceName string) error {
	if c.config.Registry == nil {
		return nil
	}
	c.mu.Lock()
	started := c.ready[serviceName]
	c.mu.Unlock()
	if started {
		return nil
	}
	registered := make(chan struct{})
	done := int32(0)
	onRegistered := func() {
		if atomic.SwapInt32(&done, 1) == 0 {
			close(registered)
		}
	}
	cancel := c.config.Registry.WatchRegistered(serviceName, onRegistered)
	defer cancel()
	if len(c.config.Registry.Instances(serviceName)) > 0 {
		onRegistered()
	}
	select {
	case <-registered:
		c.mu.Lock()
		if _, watched := c.ready[serviceName]; watched {
			c.ready[serviceName] = true
		}
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
