package framed

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/internal/testlogger"
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/rpc"
)

type sinkFunc func(callID string, payload []byte) bool

func (f sinkFunc) Deliver(callID string, payload []byte) bool { return f(callID, payload) }

func setup(t *testing.T, handle rpc.Handler) *Session {
	t.Helper()
	log := testlogger.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := NewDispatcher(rpc.ChannelMemory, log)
	if handle != nil {
		_, err := d.Listen(ctx, "Echo", handle)
		require.NoError(t, err)
	}
	srv, cli := Pipe()
	go func() { _ = d.Serve(ctx, srv) }()
	s := NewSession(ctx, cli, log)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResultStreamAndCallback(t *testing.T) {
	s := setup(t, func(ctx context.Context, a rpc.ServerAdapter) error {
		require.NoError(t, a.Start(ctx, func() {}))
		p, err := a.ReceiveCallParam(ctx)
		if err != nil {
			return err
		}
		up, err := a.OpenRequestStream(ctx, p.StreamLength)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(up)
		if err != nil {
			return err
		}
		if err := a.SendCallback(ctx, p.CallID, []byte(`"progress"`)); err != nil {
			return err
		}
		if _, err := a.SendResult(ctx, &rpc.Result{Value: p.Args[0], HasStream: true}); err != nil {
			return err
		}
		if err := a.SendChunk(ctx, body); err != nil {
			return err
		}
		return a.SendStreamEnd(ctx)
	})

	ctx := context.Background()
	callbacks := make(chan string, 1)
	a, err := s.NewAdapter(ctx, "c1", sinkFunc(func(id string, payload []byte) bool {
		callbacks <- id + string(payload)
		return true
	}))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.SendCallParam(ctx, &rpc.CallParam{
		CallID: "c1",
		Action: rpc.ActionInfo{Contract: "Echo", Method: "Echo"},
		Args:   [][]byte{[]byte(`"hi"`)},
	}))
	require.NoError(t, a.SendChunk(ctx, []byte("up")))
	require.NoError(t, a.SendChunk(ctx, []byte("load")))
	require.NoError(t, a.SendStreamEnd(ctx))

	r, err := a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, rpc.ReplyResult, r.Kind)
	require.Equal(t, `"hi"`, string(r.Result.Value))
	require.True(t, r.Result.HasStream)

	r, err = a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, rpc.ReplyChunk, r.Kind)
	require.Equal(t, "upload", string(r.Data))

	r, err = a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, rpc.ReplyStreamEnd, r.Kind)

	select {
	case got := <-callbacks:
		require.Equal(t, `c1"progress"`, got)
	case <-time.After(time.Second):
		t.Fatal("callback not delivered")
	}
	require.NoError(t, a.Close())
	require.Equal(t, 0, s.Pending())
}

func TestUnknownContract(t *testing.T) {
	s := setup(t, nil)
	ctx := context.Background()
	a, err := s.NewAdapter(ctx, "c1", nil)
	require.NoError(t, err)
	require.NoError(t, a.SendCallParam(ctx, &rpc.CallParam{Action: rpc.ActionInfo{Contract: "Nope", Method: "X"}}))

	r, err := a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, rpc.ReplyFault, r.Kind)
	require.Equal(t, fault.StatusUnhandled, r.Fault.StatusCode)
}

func TestUnservedCall(t *testing.T) {
	s := setup(t, func(ctx context.Context, a rpc.ServerAdapter) error {
		return errors.New("no instance")
	})
	ctx := context.Background()
	a, err := s.NewAdapter(ctx, "c1", nil)
	require.NoError(t, err)
	require.NoError(t, a.SendCallParam(ctx, &rpc.CallParam{Action: rpc.ActionInfo{Contract: "Echo", Method: "Echo"}}))

	r, err := a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, rpc.ReplyFault, r.Kind)
	require.Equal(t, fault.StatusUnhandled, r.Fault.StatusCode)
	require.Equal(t, fault.TypeText, r.Fault.Type)
	require.NoError(t, a.Close())
}

func TestCancelFrame(t *testing.T) {
	s := setup(t, func(ctx context.Context, a rpc.ServerAdapter) error {
		callCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		require.NoError(t, a.Start(callCtx, cancel))
		<-callCtx.Done()
		return a.SendFault(context.WithoutCancel(ctx), fault.ToDescriptor(callCtx.Err(), nil))
	})
	ctx := context.Background()
	a, err := s.NewAdapter(ctx, "c1", nil)
	require.NoError(t, err)
	require.NoError(t, a.SendCallParam(ctx, &rpc.CallParam{Action: rpc.ActionInfo{Contract: "Echo", Method: "Slow"}}))
	require.NoError(t, a.SendCancel(ctx))

	r, err := a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, rpc.ReplyCancelled, r.Kind)
}

func TestSessionClosedFailsPending(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	s := setup(t, func(ctx context.Context, a rpc.ServerAdapter) error {
		<-block
		return nil
	})
	ctx := context.Background()
	a, err := s.NewAdapter(ctx, "c1", nil)
	require.NoError(t, err)
	require.NoError(t, a.SendCallParam(ctx, &rpc.CallParam{Action: rpc.ActionInfo{Contract: "Echo", Method: "Echo"}}))
	require.NoError(t, s.Close())

	_, err = a.Recv(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = s.NewAdapter(ctx, "c2", nil)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestTerminal(t *testing.T) {
	require.True(t, Terminal(&Frame{Kind: KindResult, Result: &rpc.Result{}}))
	require.False(t, Terminal(&Frame{Kind: KindResult, Result: &rpc.Result{HasStream: true}}))
	require.True(t, Terminal(&Frame{Kind: KindEnd}))
	require.False(t, Terminal(&Frame{Kind: KindChunk}))
}
