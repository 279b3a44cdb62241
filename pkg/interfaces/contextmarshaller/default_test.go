package contextmarshaller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/pkg/metadata"
)

func TestDefaultCtxMarshaller(t *testing.T) {
	m := &DefaultCtxMarshaller{}
	dl := time.Now().Add(time.Minute)
	ctx, cancel := context.WithDeadline(metadata.Set(context.Background(), "user", "42"), dl)
	defer cancel()

	header, err := m.Marshal(ctx)
	require.NoError(t, err)
	require.Equal(t, "42", header["user"])
	require.Contains(t, header, DeadlineKey)

	root, stop := context.WithCancel(context.Background())
	got, gotCancel, err := m.Unmarshal(root, header)
	require.NoError(t, err)
	defer gotCancel()

	v, _ := metadata.Get(got, "user")
	require.Equal(t, "42", v)
	_, ok := metadata.Get(got, DeadlineKey)
	require.False(t, ok)
	gotDl, ok := got.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, dl, gotDl, time.Microsecond)

	stop()
	require.ErrorIs(t, got.Err(), context.Canceled)
}

func TestNoDeadline(t *testing.T) {
	m := &DefaultCtxMarshaller{}
	header, err := m.Marshal(context.Background())
	require.NoError(t, err)
	require.Empty(t, header)

	ctx, cancel, err := m.Unmarshal(context.Background(), nil)
	require.NoError(t, err)
	_, ok := ctx.Deadline()
	require.False(t, ok)
	cancel()
	require.Error(t, ctx.Err())

	_, _, err = m.Unmarshal(context.Background(), metadata.Metadata{DeadlineKey: "tomorrow"})
	require.Error(t, err)
}
