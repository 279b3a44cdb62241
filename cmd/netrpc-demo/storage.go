package main

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/fault"
)

type NotFound struct {
	Name string
}

func (e *NotFound) Error() string {
	return "object " + e.Name + " not found"
}

var NotFoundKind = fault.KindOf[*NotFound]("NotFound", nil)

type Stat struct {
	Name string
	Size int64
}

// Storage keeps named blobs.
type Storage interface {
	Ping(ctx context.Context, msg string) (string, error)
	Put(ctx context.Context, name string, body io.Reader, progress func(int64) error) (*Stat, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]Stat, error)
	Drop(name string) error
}

func NewStorageDescriptor() *contract.Descriptor {
	return contract.MustDescribe((*Storage)(nil),
		contract.FireAndForget("Drop"),
		contract.Faults("Get", fault.Mapping{Code: "404", Kind: NotFoundKind, StatusCode: 404}),
	)
}

type store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func newStore() *store {
	return &store{blobs: map[string][]byte{}}
}

func (s *store) Ping(ctx context.Context, msg string) (string, error) {
	return "pong: " + msg, nil
}

func (s *store) Put(ctx context.Context, name string, body io.Reader, progress func(int64) error) (*Stat, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 64*1024)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if perr := progress(int64(buf.Len())); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	s.blobs[name] = buf.Bytes()
	s.mu.Unlock()
	return &Stat{Name: name, Size: int64(buf.Len())}, nil
}

func (s *store) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.blobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFound{Name: name}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *store) List(ctx context.Context) ([]Stat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stat, 0, len(s.blobs))
	for name, b := range s.blobs {
		out = append(out, Stat{Name: name, Size: int64(len(b))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *store) Drop(name string) error {
	s.mu.Lock()
	delete(s.blobs, name)
	s.mu.Unlock()
	return nil
}
