package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/f0mster/netrpc/pkg/interfaces/codec"
)

func TestJSON(t *testing.T) {
	c := codec.JSON{}
	b, err := c.Marshal(map[string]int{"a": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(b))

	b, err = c.Marshal(wrapperspb.String("hello"))
	require.NoError(t, err)
	require.Equal(t, `"hello"`, string(b))
	got := &wrapperspb.StringValue{}
	require.NoError(t, c.Unmarshal(b, got))
	require.Equal(t, "hello", got.GetValue())
}

func TestProto(t *testing.T) {
	c := codec.Proto{}
	b, err := c.Marshal(wrapperspb.Int64(42))
	require.NoError(t, err)
	got := &wrapperspb.Int64Value{}
	require.NoError(t, c.Unmarshal(b, got))
	require.Equal(t, int64(42), got.GetValue())

	_, err = c.Marshal(42)
	require.Error(t, err)
	require.Error(t, c.Unmarshal(b, new(int)))
}
