package server_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/client"
	tests "github.com/f0mster/netrpc/internal/test"
	"github.com/f0mster/netrpc/internal/testlogger"
	"github.com/f0mster/netrpc/pkg/registry"
	registrymemory "github.com/f0mster/netrpc/pkg/registry/memory"
	"github.com/f0mster/netrpc/pkg/server"
	"github.com/f0mster/netrpc/pkg/transport/memory"
)

func newServer(t *testing.T, tr *memory.Transport, opts ...server.Option) *server.Server {
	srv, err := server.NewServer(server.Config{Logger: testlogger.New(t)}, append([]server.Option{server.WithTransport(tr)}, opts...)...)
	require.NoError(t, err)
	return srv
}

func TestConfigErrors(t *testing.T) {
	_, err := server.NewServer(server.Config{})
	require.Error(t, err)

	tr := memory.New(time.Second)
	defer tr.Close()
	srv := newServer(t, tr)
	require.Error(t, srv.Start(), "no service registered")
	require.Error(t, srv.Stop(), "not started")
	require.Error(t, srv.Register(tests.NewCalculatorDescriptor(), struct{}{}))
}

func TestLifecycle(t *testing.T) {
	tr := memory.New(time.Second, memory.WithLogger(testlogger.New(t)))
	defer tr.Close()
	reg := registrymemory.New()
	desc := tests.NewCalculatorDescriptor()

	cli, err := client.NewClient(client.Config{Transport: tr, Registry: reg, Logger: testlogger.New(t)})
	require.NoError(t, err)

	var srv *server.Server
	var instances map[registry.InstanceId]bool
	var result int
	var callErr error
	srv = newServer(t, tr,
		server.BeforeStart(func() error {
			_, err := client.Invoke[int](context.Background(), cli, desc, "Divide", 6, 3)
			if !errors.Is(err, client.ErrServiceNotStarted) {
				return errors.New("call before start must fail fast")
			}
			return nil
		}),
		server.AfterStart(func() error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if callErr = cli.WaitForServiceStarted(ctx, desc.Name); callErr == nil {
					instances = reg.Instances(desc.Name)
					result, callErr = client.Invoke[int](ctx, cli, desc, "Divide", 6, 3)
				}
				_ = srv.Stop()
			}()
			return nil
		}),
	)
	require.NoError(t, srv.Register(desc, tests.NewCalc()))
	require.NoError(t, srv.Start())

	require.NoError(t, callErr)
	require.Equal(t, 2, result)
	require.True(t, instances[srv.InstanceID()])
	require.Empty(t, reg.Instances(desc.Name))
	require.NoError(t, srv.Stop(), "second stop is a no-op")
}

func TestAfterStartError(t *testing.T) {
	tr := memory.New(time.Second)
	defer tr.Close()
	boom := errors.New("boom")
	srv := newServer(t, tr, server.AfterStart(func() error { return boom }))
	require.NoError(t, srv.Register(tests.NewCalculatorDescriptor(), tests.NewCalc()))
	require.ErrorIs(t, srv.Start(), boom)
}

func TestRegisterWhileStarted(t *testing.T) {
	tr := memory.New(time.Second)
	defer tr.Close()
	var registerErr error
	var srv *server.Server
	srv = newServer(t, tr, server.AfterStart(func() error {
		registerErr = srv.Register(tests.NewCalculatorDescriptor(), tests.NewCalc())
		go func() { _ = srv.Stop() }()
		return nil
	}))
	require.NoError(t, srv.Register(tests.NewCalculatorDescriptor(), tests.NewCalc()))
	require.NoError(t, srv.Start())
	require.Error(t, registerErr)
}

func TestFactoryPerCall(t *testing.T) {
	tr := memory.New(time.Second, memory.WithLogger(testlogger.New(t)))
	defer tr.Close()
	desc := tests.NewCalculatorDescriptor()
	var resolved int32

	started := make(chan struct{})
	srv := newServer(t, tr, server.AfterStart(func() error {
		close(started)
		return nil
	}))
	require.NoError(t, srv.RegisterFactory(desc, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&resolved, 1)
		return tests.NewCalc(), nil
	}))
	go func() { _ = srv.Start() }()
	<-started
	defer srv.Stop()

	cli, err := client.NewClient(client.Config{Transport: tr, Logger: testlogger.New(t)})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		v, err := client.Invoke[int](context.Background(), cli, desc, "Divide", 9, 3)
		require.NoError(t, err)
		require.Equal(t, 3, v)
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&resolved))
}
