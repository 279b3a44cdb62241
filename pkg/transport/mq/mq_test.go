package mq

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/client"
	tests "github.com/f0mster/netrpc/internal/test"
	"github.com/f0mster/netrpc/internal/testlogger"
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/pubsub"
	"github.com/f0mster/netrpc/pkg/pubsub/memory"
	"github.com/f0mster/netrpc/pkg/pubsub/nats"
)

func factory(broker func(t *testing.T) pubsub.Broker) tests.Factory {
	return func(t *testing.T) tests.Transport {
		b := broker(t)
		log := testlogger.New(t)
		srv := NewServer(b, log)
		t.Cleanup(func() { _ = srv.Close() })
		cli, err := NewClient(context.Background(), b, log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = cli.Close() })
		return tests.Transport{Listener: srv, Client: cli}
	}
}

func TestConformanceMemory(t *testing.T) {
	tests.RunConformance(t, factory(func(t *testing.T) pubsub.Broker {
		b := memory.New()
		t.Cleanup(b.Close)
		return b
	}))
}

func TestConformanceNats(t *testing.T) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server failed to start")
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	tests.RunConformance(t, factory(func(t *testing.T) pubsub.Broker {
		b, err := nats.New(ns.ClientURL())
		require.NoError(t, err)
		t.Cleanup(b.Close)
		return b
	}))
}

func TestCallsTopic(t *testing.T) {
	require.Equal(t, "Calculator.calls", CallsTopic("Calculator"))
}

func TestUnansweredCallRoute(t *testing.T) {
	b := memory.New()
	t.Cleanup(b.Close)
	log := testlogger.New(t)
	cli, err := NewClient(context.Background(), b, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	c, err := client.NewClient(client.Config{
		Transport:   cli,
		Logger:      log,
		CancelGrace: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	// no server consumes the calls topic
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Invoke(ctx, tests.NewCalculatorDescriptor(), "Divide", 6, 3)
	require.True(t, fault.IsCancellation(err), err)
	require.Equal(t, 0, cli.conn.pending())
	require.Equal(t, 0, cli.Pending())
}
