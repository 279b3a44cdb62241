package tests

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/client"
	"github.com/f0mster/netrpc/internal/testlogger"
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/metadata"
	"github.com/f0mster/netrpc/pkg/middleware"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/server"
	"github.com/f0mster/netrpc/pkg/stream"
)

// Transport is one transport under test.
type Transport struct {
	Listener rpc.Listener
	Client   rpc.ClientTransport
	// NoCallbacks is set when the client opened no callback channel,
	// so callbacks are never delivered.
	NoCallbacks bool
}

// Factory builds a fresh transport pair for every sub test.
type Factory func(t *testing.T) Transport

type env struct {
	calc    *Calc
	client  *client.Client
	streams chan stream.State
}

func (e *env) call(ctx context.Context, method string, args ...any) (any, error) {
	return e.client.Invoke(ctx, NewCalculatorDescriptor(), method, args...)
}

func start(t *testing.T, factory Factory) (*env, Transport) {
	t.Helper()
	tr := factory(t)
	log := testlogger.New(t)
	e := &env{calc: NewCalc(), streams: make(chan stream.State, 16)}

	observe := func(next middleware.CallHandler) middleware.CallHandler {
		return func(cc *rpc.CallContext) error {
			cc.OnStreamFinished(func(_ *rpc.CallContext, s stream.State) {
				e.streams <- s
			})
			return next(cc)
		}
	}
	started := make(chan struct{})
	srv, err := server.NewServer(server.Config{Logger: log},
		server.WithTransport(tr.Listener),
		server.WithMiddleware(observe),
		server.AfterStart(func() error {
			close(started)
			return nil
		}),
	)
	require.NoError(t, err)
	require.NoError(t, srv.Register(NewCalculatorDescriptor(), e.calc))
	go func() {
		if err := srv.Start(); err != nil {
			t.Errorf("server start: %v", err)
		}
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("server not started")
	}
	t.Cleanup(func() { _ = srv.Stop() })

	e.client, err = client.NewClient(client.Config{
		Transport:   tr.Client,
		Logger:      log,
		CancelGrace: time.Second,
	})
	require.NoError(t, err)
	return e, tr
}

// RunConformance checks the call semantics every transport must provide.
func RunConformance(t *testing.T, factory Factory) {
	t.Run("result", func(t *testing.T) {
		e, _ := start(t, factory)
		v, err := e.call(context.Background(), "Divide", 6, 3)
		require.NoError(t, err)
		require.Equal(t, 2, v)
	})

	t.Run("declared fault", func(t *testing.T) {
		e, _ := start(t, factory)
		_, err := e.call(context.Background(), "Divide", 7, 0)
		var dz *DivideByZero
		require.ErrorAs(t, err, &dz)
		require.Equal(t, 7, dz.Dividend)
	})

	t.Run("unhandled fault", func(t *testing.T) {
		e, _ := start(t, factory)
		_, err := e.call(context.Background(), "Divide", 7, -1)
		var fe *fault.Error
		require.ErrorAs(t, err, &fe)
		require.Equal(t, fault.StatusUnhandled, fe.StatusCode)
		require.Contains(t, fe.Message, "negative divisor")
	})

	t.Run("header", func(t *testing.T) {
		e, _ := start(t, factory)
		ctx := metadata.Set(context.Background(), "x-user", "bob")
		v, err := e.call(ctx, "Whoami")
		require.NoError(t, err)
		require.Equal(t, "bob", v)
	})

	t.Run("download", func(t *testing.T) {
		e, _ := start(t, factory)
		const size = 10 << 20
		v, err := e.call(context.Background(), "Download", size)
		require.NoError(t, err)
		rc := v.(io.ReadCloser)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		require.Len(t, body, size)
		require.True(t, bytes.Equal(patternBytes(size), body))
		require.Equal(t, stream.Completed, <-e.streams)
	})

	t.Run("struct stream", func(t *testing.T) {
		e, _ := start(t, factory)
		v, err := e.call(context.Background(), "Report", "q3", 1000)
		require.NoError(t, err)
		r := v.(*Report)
		require.Equal(t, "q3", r.Title)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, patternBytes(1000), body)
	})

	t.Run("download closed early", func(t *testing.T) {
		e, _ := start(t, factory)
		v, err := e.call(context.Background(), "Endless")
		require.NoError(t, err)
		rc := v.(io.ReadCloser)
		buf := make([]byte, 1000)
		_, err = io.ReadFull(rc, buf)
		require.NoError(t, err)
		require.Equal(t, patternBytes(1000), buf)
		require.NoError(t, rc.Close())
		select {
		case s := <-e.streams:
			require.NotEqual(t, stream.Completed, s)
		case <-time.After(5 * time.Second):
			t.Fatal("server stream not stopped")
		}
	})

	t.Run("upload with progress", func(t *testing.T) {
		e, tr := start(t, factory)
		const size = 1 << 20
		var mu sync.Mutex
		var seen []int64
		progress := func(p Progress) error {
			mu.Lock()
			seen = append(seen, p.Received)
			mu.Unlock()
			return nil
		}
		v, err := e.call(context.Background(), "Upload", "blob", bytes.NewReader(patternBytes(size)), progress)
		require.NoError(t, err)
		res := v.(*UploadResult)
		require.Equal(t, "blob", res.Name)
		require.Equal(t, int64(size), res.Size)

		mu.Lock()
		defer mu.Unlock()
		for i := 1; i < len(seen); i++ {
			require.Less(t, seen[i-1], seen[i])
		}
		if tr.NoCallbacks {
			require.Empty(t, seen)
		} else {
			require.NotEmpty(t, seen)
			require.Equal(t, int64(size), seen[len(seen)-1])
		}
		require.Equal(t, 0, e.client.Pending())
	})

	t.Run("cancel", func(t *testing.T) {
		e, _ := start(t, factory)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		begin := time.Now()
		_, err := e.call(ctx, "Slow", 5*time.Second)
		require.Error(t, err)
		require.True(t, fault.IsCancellation(err), err)
		var fe *fault.Error
		require.False(t, errors.As(err, &fe), "cancellation must not arrive as a fault")
		require.Less(t, time.Since(begin), 3*time.Second)
		select {
		case <-e.calc.Cancelled:
		case <-time.After(3 * time.Second):
			t.Fatal("server call not cancelled")
		}
	})

	t.Run("fire and forget", func(t *testing.T) {
		e, _ := start(t, factory)
		v, err := e.call(context.Background(), "Notify", "hello")
		require.NoError(t, err)
		require.Nil(t, v)
		select {
		case msg := <-e.calc.Notified:
			require.Equal(t, "hello", msg)
		case <-time.After(3 * time.Second):
			t.Fatal("notification not delivered")
		}
	})

	t.Run("fire and forget body", func(t *testing.T) {
		e, _ := start(t, factory)
		for _, body := range [][]byte{nil, []byte("abc")} {
			_, err := e.call(context.Background(), "Store", "doc", bytes.NewReader(body))
			require.NoError(t, err)
			select {
			case s := <-e.calc.Stored:
				require.NoError(t, s.Err)
				require.Equal(t, "doc", s.Name)
				require.Equal(t, int64(len(body)), s.Size)
			case <-time.After(3 * time.Second):
				t.Fatalf("body of %d bytes not stored", len(body))
			}
		}
	})

	t.Run("callback isolation", func(t *testing.T) {
		e, tr := start(t, factory)
		const calls, ticks = 20, 20
		var wg sync.WaitGroup
		for i := 0; i < calls; i++ {
			tag := fmt.Sprintf("call-%d", i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				var got []Tick
				var mu sync.Mutex
				v, err := e.call(context.Background(), "Watch", tag, ticks, func(tk Tick) error {
					mu.Lock()
					got = append(got, tk)
					mu.Unlock()
					return nil
				})
				if !assertNoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				for j, tk := range got {
					if tk.Tag != tag {
						t.Errorf("%s received tick of %s", tag, tk.Tag)
					}
					if tk.Seq != j {
						t.Errorf("%s: tick %d out of order: %d", tag, j, tk.Seq)
					}
				}
				want := ticks
				if tr.NoCallbacks {
					want = 0
				}
				if len(got) != want {
					t.Errorf("%s: %d ticks, want %d", tag, len(got), want)
				}
				if v != ticks {
					t.Errorf("%s: result %v", tag, v)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 0, e.client.Pending())
	})
}

func assertNoError(t *testing.T, err error) bool {
	if err != nil {
		t.Errorf("unexpected error: %v", err)
		return false
	}
	return true
}
