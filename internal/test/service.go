package tests

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/metadata"
)

// DivideByZero is the declared fault of Calculator.Divide.
type DivideByZero struct {
	Dividend int `json:"dividend"`
}

func (e *DivideByZero) Error() string {
	return fmt.Sprintf("%d divided by zero", e.Dividend)
}

var DivideByZeroKind = fault.KindOf[*DivideByZero]("DivideByZero", nil)

type Progress struct {
	Received int64 `json:"received"`
}

type Tick struct {
	Tag string `json:"tag"`
	Seq int    `json:"seq"`
}

type UploadResult struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Stored is what Store saw of a posted body.
type Stored struct {
	Name string
	Size int64
	Err  error
}

type Report struct {
	Title string    `json:"title"`
	Body  io.Reader `json:"-"`
}

// Calculator is the contract served by the conformance suite.
type Calculator interface {
	Divide(a, b int) (int, error)
	Whoami(ctx context.Context) (string, error)
	Download(ctx context.Context, size int) (io.ReadCloser, error)
	Endless() (io.ReadCloser, error)
	Upload(ctx context.Context, name string, body io.Reader, progress func(Progress) error) (*UploadResult, error)
	Slow(ctx context.Context, d time.Duration) error
	Notify(msg string) error
	Store(ctx context.Context, name string, body io.Reader) error
	Watch(ctx context.Context, tag string, n int, tick func(Tick) error) (int, error)
	Report(title string, size int) (*Report, error)
}

// NewCalculatorDescriptor describes Calculator with its fault mapping and
// Notify and Store as fire-and-forget methods.
func NewCalculatorDescriptor() *contract.Descriptor {
	return contract.MustDescribe((*Calculator)(nil),
		contract.Faults("Divide", fault.Mapping{Code: "1", Kind: DivideByZeroKind}),
		contract.FireAndForget("Notify"),
		contract.FireAndForget("Store"),
	)
}

// Pattern returns the byte at offset i of every generated stream.
func Pattern(i int) byte {
	return byte(i % 251)
}

func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = Pattern(i)
	}
	return b
}

// Calc is the Calculator implementation. Its channels report what the server observed.
type Calc struct {
	Notified  chan string
	Stored    chan Stored
	Cancelled chan struct{}
}

func NewCalc() *Calc {
	return &Calc{
		Notified:  make(chan string, 16),
		Stored:    make(chan Stored, 16),
		Cancelled: make(chan struct{}, 16),
	}
}

func (c *Calc) Divide(a, b int) (int, error) {
	if b == 0 {
		return 0, &DivideByZero{Dividend: a}
	}
	if b < 0 {
		return 0, errors.New("negative divisor")
	}
	return a / b, nil
}

func (c *Calc) Whoami(ctx context.Context) (string, error) {
	user, _ := metadata.Get(ctx, "x-user")
	return user, nil
}

func (c *Calc) Download(ctx context.Context, size int) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(patternBytes(size))), nil
}

// Endless streams the pattern until the reader is closed.
func (c *Calc) Endless() (io.ReadCloser, error) {
	return io.NopCloser(&endlessReader{}), nil
}

func (c *Calc) Upload(ctx context.Context, name string, body io.Reader, progress func(Progress) error) (*UploadResult, error) {
	buf := make([]byte, 32*1024)
	var n int64
	for {
		k, err := body.Read(buf)
		for i := 0; i < k; i++ {
			if buf[i] != Pattern(int(n)+i) {
				return nil, fmt.Errorf("corrupted upload at %d", int(n)+i)
			}
		}
		n += int64(k)
		if k > 0 && progress != nil {
			if err := progress(Progress{Received: n}); err != nil {
				return nil, err
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return &UploadResult{Name: name, Size: n}, nil
}

func (c *Calc) Slow(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		c.Cancelled <- struct{}{}
		return ctx.Err()
	}
}

func (c *Calc) Notify(msg string) error {
	c.Notified <- msg
	return nil
}

// Store reads the posted body, then keeps the call running for a while so
// the call context is observed after the caller got its answer.
func (c *Calc) Store(ctx context.Context, name string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		c.Stored <- Stored{Name: name, Err: err}
		return err
	}
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		c.Stored <- Stored{Name: name, Err: ctx.Err()}
		return ctx.Err()
	}
	c.Stored <- Stored{Name: name, Size: int64(len(data))}
	return nil
}

func (c *Calc) Watch(ctx context.Context, tag string, n int, tick func(Tick) error) (int, error) {
	for i := 0; i < n; i++ {
		if err := tick(Tick{Tag: tag, Seq: i}); err != nil {
			return i, err
		}
	}
	return n, nil
}

func (c *Calc) Report(title string, size int) (*Report, error) {
	return &Report{Title: title, Body: bytes.NewReader(patternBytes(size))}, nil
}

type endlessReader struct {
	off int
}

func (r *endlessReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	for i := range p {
		p[i] = Pattern(r.off + i)
	}
	r.off += len(p)
	return len(p), nil
}
