package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/internal/testlogger"
	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/interfaces/codec"
	"github.com/f0mster/netrpc/pkg/interfaces/contextmarshaller"
	"github.com/f0mster/netrpc/pkg/rpc"
)

type echo interface {
	Echo(msg string) (string, error)
	Wait(ctx context.Context) error
	Blob(n int) (io.ReadCloser, error)
	Post(body io.Reader) error
	Reject(body io.Reader) error
}

type echoService struct {
	posted chan string
}

func (e *echoService) Echo(msg string) (string, error) { return msg, nil }

func (e *echoService) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (e *echoService) Blob(n int) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(bytes.Repeat([]byte{'x'}, n))), nil
}

func (e *echoService) Post(body io.Reader) error {
	b, err := io.ReadAll(body)
	e.posted <- string(b)
	return err
}

func (e *echoService) Reject(body io.Reader) error {
	b, _ := io.ReadAll(body)
	e.posted <- string(b)
	return errors.New("rejected")
}

// fakeAdapter records what the coordinator sends.
type fakeAdapter struct {
	param     *rpc.CallParam
	upload    io.ReadCloser
	startErr  error
	cancelNow bool

	mu     sync.Mutex
	result *rpc.Result
	faults []*fault.Descriptor
	chunks bytes.Buffer
	end    string
}

func (f *fakeAdapter) ChannelType() rpc.ChannelType { return rpc.ChannelMemory }

func (f *fakeAdapter) Start(ctx context.Context, cancel context.CancelFunc) error {
	if f.cancelNow {
		cancel()
	}
	return f.startErr
}

func (f *fakeAdapter) ReceiveCallParam(ctx context.Context) (*rpc.CallParam, error) {
	return f.param, nil
}

func (f *fakeAdapter) OpenRequestStream(ctx context.Context, length *int64) (io.ReadCloser, error) {
	if f.upload != nil {
		return f.upload, nil
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeAdapter) SendResult(ctx context.Context, r *rpc.Result) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
	return r.HasStream, nil
}

func (f *fakeAdapter) SendFault(ctx context.Context, d *fault.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, d)
	return nil
}

func (f *fakeAdapter) SendCallback(ctx context.Context, callID string, payload []byte) error {
	return nil
}

func (f *fakeAdapter) SendChunk(ctx context.Context, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks.Write(chunk)
	return nil
}

func (f *fakeAdapter) SendStreamEnd(ctx context.Context) error {
	f.end = "end"
	return nil
}

func (f *fakeAdapter) SendStreamCancelled(ctx context.Context) error {
	f.end = "cancelled"
	return nil
}

func (f *fakeAdapter) SendStreamFaulted(ctx context.Context) error {
	f.end = "faulted"
	return nil
}

func newCoordinator(t *testing.T, factory Factory) *Coordinator {
	co := NewCoordinator(testlogger.New(t), codec.Default, &contextmarshaller.DefaultCtxMarshaller{}, 4)
	desc := contract.MustDescribe((*echo)(nil), contract.FireAndForget("Post"), contract.FireAndForget("Reject"))
	require.NoError(t, co.register(desc, factory))
	return co
}

func call(t *testing.T, method string, args ...any) *rpc.CallParam {
	raw, err := rpc.EncodeArgs(codec.Default, args)
	require.NoError(t, err)
	return &rpc.CallParam{CallID: "c1", Action: rpc.ActionInfo{Contract: "echo", Method: method}, Args: raw}
}

func instance(svc *echoService) Factory {
	return func(context.Context) (any, error) { return svc, nil }
}

func TestHandleCallResult(t *testing.T) {
	co := newCoordinator(t, instance(&echoService{}))
	a := &fakeAdapter{param: call(t, "Echo", "hi")}
	require.NoError(t, co.HandleCall(context.Background(), a))
	require.Empty(t, a.faults)
	require.Equal(t, `"hi"`, string(a.result.Value))
}

func TestHandleCallUnknown(t *testing.T) {
	co := newCoordinator(t, instance(&echoService{}))
	for _, p := range []*rpc.CallParam{
		call(t, "Nope"),
		{CallID: "c2", Action: rpc.ActionInfo{Contract: "other", Method: "Echo"}},
	} {
		a := &fakeAdapter{param: p}
		require.NoError(t, co.HandleCall(context.Background(), a))
		require.Nil(t, a.result)
		require.Len(t, a.faults, 1)
		require.Equal(t, fault.StatusUnhandled, a.faults[0].StatusCode)
	}
}

func TestHandleCallCancelled(t *testing.T) {
	co := newCoordinator(t, instance(&echoService{}))
	a := &fakeAdapter{param: call(t, "Wait"), cancelNow: true}
	require.NoError(t, co.HandleCall(context.Background(), a))
	require.Nil(t, a.result)
	require.Len(t, a.faults, 1)
	require.Equal(t, fault.StatusCancelled, a.faults[0].StatusCode)
}

func TestHandleCallRootCancelled(t *testing.T) {
	co := newCoordinator(t, instance(&echoService{}))
	root, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeAdapter{param: call(t, "Wait")}
	require.NoError(t, co.HandleCall(root, a))
	require.Len(t, a.faults, 1)
	require.Equal(t, fault.StatusCancelled, a.faults[0].StatusCode)
}

func TestHandleCallLocalFailures(t *testing.T) {
	boom := errors.New("boom")
	co := newCoordinator(t, func(context.Context) (any, error) { return nil, boom })
	a := &fakeAdapter{param: call(t, "Echo", "hi")}
	require.ErrorIs(t, co.HandleCall(context.Background(), a), boom)
	require.Nil(t, a.result)
	require.Empty(t, a.faults)

	co = newCoordinator(t, instance(&echoService{}))
	a = &fakeAdapter{param: call(t, "Echo", "hi"), startErr: boom}
	require.ErrorIs(t, co.HandleCall(context.Background(), a), boom)
	require.Nil(t, a.result)
	require.Empty(t, a.faults)
}

func TestHandleCallStreamResult(t *testing.T) {
	co := newCoordinator(t, instance(&echoService{}))
	a := &fakeAdapter{param: call(t, "Blob", 10)}
	require.NoError(t, co.HandleCall(context.Background(), a))
	require.True(t, a.result.HasStream)
	require.Equal(t, 10, a.chunks.Len())
	require.Equal(t, "end", a.end)
}

func TestHandleCallPostBody(t *testing.T) {
	svc := &echoService{posted: make(chan string, 1)}
	co := newCoordinator(t, instance(svc))
	p := call(t, "Post")
	p.Action.FireAndForget = true
	p.PostBody = []byte("posted")
	a := &fakeAdapter{param: p}
	require.NoError(t, co.HandleCall(context.Background(), a))
	require.Equal(t, "posted", <-svc.posted)
	require.Nil(t, a.result)
	require.Empty(t, a.faults)
}

func TestHandleCallEmptyPostBody(t *testing.T) {
	svc := &echoService{posted: make(chan string, 1)}
	co := newCoordinator(t, instance(svc))
	p := call(t, "Post")
	p.Action.FireAndForget = true
	a := &fakeAdapter{param: p, upload: blockingReader{}}
	require.NoError(t, co.HandleCall(context.Background(), a))
	require.Equal(t, "", <-svc.posted)
	require.Nil(t, a.result)
	require.Empty(t, a.faults)
}

func TestHandleCallFireAndForgetFailure(t *testing.T) {
	svc := &echoService{posted: make(chan string, 1)}
	co := newCoordinator(t, instance(svc))
	p := call(t, "Reject")
	p.PostBody = []byte("posted")
	a := &fakeAdapter{param: p}
	require.NoError(t, co.HandleCall(context.Background(), a))
	require.Equal(t, "posted", <-svc.posted)
	require.Nil(t, a.result)
	require.Empty(t, a.faults)
}

func TestHandleCallRequestStream(t *testing.T) {
	svc := &echoService{posted: make(chan string, 1)}
	co := newCoordinator(t, instance(svc))
	p := call(t, "Post")
	p.HasStream = true
	a := &fakeAdapter{param: p, upload: io.NopCloser(bytes.NewReader([]byte("streamed")))}
	require.NoError(t, co.HandleCall(context.Background(), a))
	require.Equal(t, "streamed", <-svc.posted)
	require.Empty(t, a.faults)
}

// blockingReader stands for a request stream that never delivers.
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }

func (blockingReader) Close() error { return nil }
