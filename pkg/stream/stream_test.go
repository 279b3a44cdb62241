package stream_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/pkg/stream"
)

type recordSink struct {
	mu        sync.Mutex
	data      bytes.Buffer
	chunks    int
	ended     int
	cancelled int
	faulted   int
	failAfter int
}

func (s *recordSink) SendChunk(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended+s.cancelled+s.faulted > 0 {
		panic("chunk after terminal signal")
	}
	if s.failAfter > 0 && s.chunks >= s.failAfter {
		return errors.New("connection reset")
	}
	s.chunks++
	s.data.Write(chunk)
	return nil
}

func (s *recordSink) SendStreamEnd(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	return nil
}

func (s *recordSink) SendStreamCancelled(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
	return nil
}

func (s *recordSink) SendStreamFaulted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faulted++
	return nil
}

func randomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestRelayCompleted(t *testing.T) {
	for _, size := range []int{0, 1, 1023, 1024, 1025, 100_000} {
		for _, chunk := range []int{1, 7, 1024, 64 * 1024} {
			src := randomBytes(t, size)
			sink := &recordSink{}
			r := stream.NewRelay(sink, chunk)
			require.NoError(t, r.Send(context.Background(), bytes.NewReader(src)))
			require.Equal(t, stream.Completed, r.State())
			require.Equal(t, src, sink.data.Bytes())
			require.Equal(t, int64(size), r.Sent())
			require.Equal(t, 1, sink.ended)
			require.Zero(t, sink.cancelled+sink.faulted)
		}
	}
}

type faultyReader struct {
	data []byte
	err  error
}

func (f *faultyReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestRelayFaultedPrefix(t *testing.T) {
	src := randomBytes(t, 10_000)
	sink := &recordSink{}
	r := stream.NewRelay(sink, 512)
	err := r.Send(context.Background(), &faultyReader{data: src[:3000], err: errors.New("disk gone")})
	require.ErrorIs(t, err, stream.ErrStreamFaulted)
	require.Equal(t, stream.Faulted, r.State())
	require.Equal(t, 1, sink.faulted)
	require.Zero(t, sink.ended)
	require.True(t, bytes.HasPrefix(src, sink.data.Bytes()))
	require.LessOrEqual(t, int64(sink.data.Len()), r.Sent())
}

func TestRelaySinkFailure(t *testing.T) {
	sink := &recordSink{failAfter: 2}
	r := stream.NewRelay(sink, 10)
	err := r.Send(context.Background(), strings.NewReader(strings.Repeat("x", 100)))
	require.ErrorIs(t, err, stream.ErrStreamFaulted)
	require.Equal(t, 20, sink.data.Len())
	require.Equal(t, 1, sink.faulted)
}

type cancelAfterReader struct {
	reads  int
	after  int
	cancel context.CancelFunc
	closed bool
}

func (c *cancelAfterReader) Read(p []byte) (int, error) {
	c.reads++
	if c.reads == c.after {
		c.cancel()
	}
	return copy(p, "abcdefgh"), nil
}

func (c *cancelAfterReader) Close() error {
	c.closed = true
	return nil
}

func TestRelayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &cancelAfterReader{after: 3, cancel: cancel}
	sink := &recordSink{}
	var states []stream.State
	r := stream.NewRelay(sink, 8, stream.OnStateChange(func(s stream.State) {
		states = append(states, s)
	}))
	err := r.Send(ctx, src)
	require.ErrorIs(t, err, stream.ErrStreamCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, stream.Cancelled, r.State())
	require.Equal(t, []stream.State{stream.Sending, stream.Cancelled}, states)
	require.True(t, src.closed)
	require.Equal(t, 1, sink.cancelled)
	require.Zero(t, sink.faulted+sink.ended)
	require.Equal(t, 24, sink.data.Len())
}

func TestRelaySingleUse(t *testing.T) {
	r := stream.NewRelay(&recordSink{}, 0)
	require.NoError(t, r.Send(context.Background(), strings.NewReader("a")))
	require.ErrorIs(t, r.Send(context.Background(), strings.NewReader("b")), stream.ErrRelayUsed)
}

func TestReaderRoundTrip(t *testing.T) {
	src := randomBytes(t, 10*1024*1024)
	started := make(chan struct{})
	finished := make(chan stream.State, 1)
	n := int64(len(src))
	rd := stream.NewReader(
		stream.WithLength(&n),
		stream.OnStarted(func() { close(started) }),
		stream.OnFinished(func(s stream.State) { finished <- s }),
	)
	go func() {
		_ = stream.NewRelay(readerSink{rd}, 64*1024).Send(context.Background(), bytes.NewReader(src))
	}()
	got, err := io.ReadAll(rd)
	require.NoError(t, err)
	require.Equal(t, len(src), len(got))
	require.Equal(t, src, got)
	<-started
	require.Equal(t, stream.Completed, <-finished)
	l, ok := rd.Length()
	require.True(t, ok)
	require.Equal(t, n, l)
}

type readerSink struct {
	rd *stream.Reader
}

func (s readerSink) SendChunk(ctx context.Context, chunk []byte) error {
	return s.rd.Push(chunk)
}

func (s readerSink) SendStreamEnd(ctx context.Context) error {
	s.rd.End()
	return nil
}

func (s readerSink) SendStreamCancelled(ctx context.Context) error {
	s.rd.Cancel()
	return nil
}

func (s readerSink) SendStreamFaulted(ctx context.Context) error {
	s.rd.Fault(nil)
	return nil
}

func TestReaderTerminalSignals(t *testing.T) {
	rd := stream.NewReader()
	require.NoError(t, rd.Push([]byte("abc")))
	rd.Cancel()
	require.ErrorIs(t, rd.Push([]byte("def")), stream.ErrClosed)
	b, err := io.ReadAll(rd)
	require.ErrorIs(t, err, stream.ErrStreamCancelled)
	require.Equal(t, "abc", string(b))

	rd = stream.NewReader()
	rd.Fault(errors.New("truncated"))
	_, err = rd.Read(make([]byte, 1))
	require.ErrorIs(t, err, stream.ErrStreamFaulted)
	require.Contains(t, err.Error(), "truncated")
}

func TestReaderCloseWakesReader(t *testing.T) {
	finished := make(chan stream.State, 1)
	rd := stream.NewReader(stream.OnFinished(func(s stream.State) { finished <- s }))
	errCh := make(chan error, 1)
	go func() {
		_, err := rd.Read(make([]byte, 10))
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, rd.Close())
	require.ErrorIs(t, <-errCh, stream.ErrClosed)
	require.Equal(t, stream.Cancelled, <-finished)
	require.NoError(t, rd.Close())
}

func TestLengthOf(t *testing.T) {
	n, ok := stream.LengthOf(strings.NewReader("hello"))
	require.True(t, ok)
	require.Equal(t, int64(5), n)
	n, ok = stream.LengthOf(bytes.NewBufferString("abc"))
	require.True(t, ok)
	require.Equal(t, int64(3), n)
	_, ok = stream.LengthOf(io.MultiReader())
	require.False(t, ok)
}
