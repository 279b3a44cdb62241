package rpc_test

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/interfaces/codec"
	"github.com/f0mster/netrpc/pkg/rpc"
)

type File struct {
	Name string
	Body io.Reader
}

type point struct{ X, Y int }

type files interface {
	Get(ctx context.Context, name string, at *point) (*File, error)
	Raw(name string) (io.ReadCloser, error)
}

var filesDesc = contract.MustDescribe((*files)(nil))

func TestArgsRoundTrip(t *testing.T) {
	m, _ := filesDesc.Method("Get")
	raw, err := rpc.EncodeArgs(codec.JSON{}, []any{"a.txt", &point{1, 2}})
	require.NoError(t, err)
	args, err := rpc.DecodeArgs(codec.JSON{}, m, raw)
	require.NoError(t, err)
	require.Equal(t, []any{"a.txt", &point{1, 2}}, args)

	raw, _ = rpc.EncodeArgs(codec.JSON{}, []any{"a.txt", (*point)(nil)})
	args, err = rpc.DecodeArgs(codec.JSON{}, m, raw)
	require.NoError(t, err)
	require.Nil(t, args[1])

	_, err = rpc.DecodeArgs(codec.JSON{}, m, raw[:1])
	require.Error(t, err)
}

func TestStructStreamResult(t *testing.T) {
	m, _ := filesDesc.Method("Get")
	body := strings.NewReader("hello")
	orig := &File{Name: "a.txt", Body: body}
	res, src, err := rpc.EncodeResult(codec.JSON{}, m, orig)
	require.NoError(t, err)
	require.True(t, res.HasStream)
	require.Equal(t, int64(5), *res.StreamLength)
	require.Same(t, body, src)
	require.Same(t, body, orig.Body)

	v, err := rpc.DecodeResult(codec.JSON{}, m, res, io.NopCloser(src))
	require.NoError(t, err)
	f := v.(*File)
	require.Equal(t, "a.txt", f.Name)
	b, _ := io.ReadAll(f.Body)
	require.Equal(t, "hello", string(b))
}

func TestPureStreamResult(t *testing.T) {
	m, _ := filesDesc.Method("Raw")
	res, src, err := rpc.EncodeResult(codec.JSON{}, m, nil)
	require.NoError(t, err)
	require.True(t, res.HasStream)
	b, _ := io.ReadAll(src)
	require.Empty(t, b)
}

func TestDecodeEmptyProtoMessage(t *testing.T) {
	raw, err := codec.Proto{}.Marshal(wrapperspb.String(""))
	require.NoError(t, err)
	require.Empty(t, raw)

	v, err := rpc.DecodeValue(codec.Proto{}, raw, reflect.TypeOf(&wrapperspb.StringValue{}))
	require.NoError(t, err)
	msg, ok := v.Interface().(*wrapperspb.StringValue)
	require.True(t, ok)
	require.NotNil(t, msg)
	require.Equal(t, "", msg.GetValue())

	v, err = rpc.DecodeValue(codec.JSON{}, nil, reflect.TypeOf(&point{}))
	require.NoError(t, err)
	require.True(t, v.IsNil())
}
