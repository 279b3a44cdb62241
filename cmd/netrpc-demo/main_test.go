package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/internal/config"
	"github.com/f0mster/netrpc/internal/testlogger"
)

func setup(t *testing.T) {
	c, err := config.Load()
	require.NoError(t, err)
	cfg = c
	log = testlogger.New(t)
}

func TestLocal(t *testing.T) {
	setup(t)
	var out bytes.Buffer
	require.NoError(t, runLocal(&out))
	require.Contains(t, out.String(), "pong: local")
	require.Contains(t, out.String(), "put greeting: 700000 bytes, last progress 700000")
	require.Contains(t, out.String(), "get greeting: 700000 bytes")
	require.Contains(t, out.String(), "object missing not found")
	require.Contains(t, out.String(), "list: 1 blobs")
}

func TestStore(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	var seen []int64
	st, err := s.Put(ctx, "a", strings.NewReader("hello"), func(n int64) error {
		seen = append(seen, n)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), st.Size)
	require.Equal(t, []int64{5}, seen)

	rc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	require.NoError(t, s.Drop("a"))
	_, err = s.Get(ctx, "a")
	var nf *NotFound
	require.ErrorAs(t, err, &nf)

	stats, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, stats)
}

func TestDescriptor(t *testing.T) {
	desc := NewStorageDescriptor()
	drop, err := desc.Method("Drop")
	require.NoError(t, err)
	require.True(t, drop.FireAndForget)
	put, err := desc.Method("Put")
	require.NoError(t, err)
	require.True(t, put.HasStream())
	require.True(t, put.HasCallback())
}
