package stream

import (
	"fmt"
	"io"
	"sync"
)

// Reader is the receiving end of a relayed stream. The transport pushes
// chunks and one terminal signal; the consumer reads it as an io.ReadCloser.
type Reader struct {
	mu       sync.Mutex
	cond     *sync.Cond
	chunks   [][]byte
	state    State
	cause    error
	closed   bool
	received int64
	length   int64
	hasLen   bool

	onStarted  func()
	onFinished func(State)
	finished   bool
}

type ReaderOption func(r *Reader)

// WithLength records the length announced by the sender.
func WithLength(n *int64) ReaderOption {
	return func(r *Reader) {
		if n != nil {
			r.length, r.hasLen = *n, true
		}
	}
}

// OnStarted is called when the first chunk arrives.
func OnStarted(fn func()) ReaderOption {
	return func(r *Reader) {
		r.onStarted = fn
	}
}

// OnFinished is called once, when the consumer observed the terminal state or
// closed the reader. A reader closed before the end reports Cancelled.
func OnFinished(fn func(State)) ReaderOption {
	return func(r *Reader) {
		r.onFinished = fn
	}
}

func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{}
	r.cond = sync.NewCond(&r.mu)
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reader) Length() (int64, bool) {
	return r.length, r.hasLen
}

func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Received returns the number of bytes pushed so far.
func (r *Reader) Received() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

// Push queues a chunk. Chunks pushed after a terminal signal are dropped.
func (r *Reader) Push(chunk []byte) error {
	r.mu.Lock()
	if r.state.Terminal() || r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	started := r.state == Idle
	r.state = Sending
	if len(chunk) > 0 {
		r.chunks = append(r.chunks, chunk)
		r.received += int64(len(chunk))
	}
	r.cond.Broadcast()
	r.mu.Unlock()
	if started && r.onStarted != nil {
		r.onStarted()
	}
	return nil
}

func (r *Reader) End() {
	r.terminate(Completed, nil)
}

func (r *Reader) Cancel() {
	r.terminate(Cancelled, nil)
}

func (r *Reader) Fault(cause error) {
	r.terminate(Faulted, cause)
}

func (r *Reader) terminate(s State, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() || r.closed {
		return
	}
	r.state = s
	r.cause = cause
	r.cond.Broadcast()
}

func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	for len(r.chunks) == 0 && !r.state.Terminal() && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if len(r.chunks) > 0 {
		n := copy(p, r.chunks[0])
		if n == len(r.chunks[0]) {
			r.chunks[0] = nil
			r.chunks = r.chunks[1:]
		} else {
			r.chunks[0] = r.chunks[0][n:]
		}
		r.mu.Unlock()
		return n, nil
	}
	state, err := r.state, r.terminalErr()
	r.mu.Unlock()
	r.finish(state)
	return 0, err
}

func (r *Reader) terminalErr() error {
	switch r.state {
	case Completed:
		return io.EOF
	case Cancelled:
		return ErrStreamCancelled
	}
	if r.cause != nil {
		return fmt.Errorf("%w: %v", ErrStreamFaulted, r.cause)
	}
	return ErrStreamFaulted
}

// Close releases the reader. Pending chunks are dropped.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.chunks = nil
	state := r.state
	if !state.Terminal() {
		state = Cancelled
		r.state = Cancelled
	}
	r.cond.Broadcast()
	r.mu.Unlock()
	r.finish(state)
	return nil
}

func (r *Reader) finish(s State) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.mu.Unlock()
	if r.onFinished != nil {
		r.onFinished(s)
	}
}
