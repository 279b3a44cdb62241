package rpc

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"google.golang.org/protobuf/proto"

	"github.com/f0mster/netrpc/pkg/contract"
	"github.com/f0mster/netrpc/pkg/interfaces/codec"
	"github.com/f0mster/netrpc/pkg/stream"
)

func EncodeArgs(c codec.Codec, args []any) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, a := range args {
		b, err := c.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func DecodeArgs(c codec.Codec, m *contract.Method, raw [][]byte) ([]any, error) {
	if len(raw) != len(m.PureTypes) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", m, len(m.PureTypes), len(raw))
	}
	out := make([]any, len(raw))
	for i, t := range m.PureTypes {
		v, err := DecodeValue(c, raw[i], t)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", m, i, err)
		}
		out[i] = v.Interface()
	}
	return out, nil
}

var protoMessage = reflect.TypeOf((*proto.Message)(nil)).Elem()

// DecodeValue decodes raw into a new value of type t. JSON null and empty
// input decode to the zero value, except for proto messages: an empty
// message encodes to no bytes on the proto wire.
func DecodeValue(c codec.Codec, raw []byte, t reflect.Type) (reflect.Value, error) {
	if string(raw) == "null" || (len(raw) == 0 && !t.Implements(protoMessage)) {
		return reflect.Zero(t), nil
	}
	if t.Kind() == reflect.Ptr {
		v := reflect.New(t.Elem())
		if err := c.Unmarshal(raw, v.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return v, nil
	}
	v := reflect.New(t)
	if err := c.Unmarshal(raw, v.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return v.Elem(), nil
}

// EncodeResult splits a method result into its encoded value and its stream.
func EncodeResult(c codec.Codec, m *contract.Method, v any) (*Result, io.Reader, error) {
	switch m.Result {
	case contract.ResultNone:
		return &Result{}, nil, nil
	case contract.ResultStream:
		src, _ := v.(io.Reader)
		if src == nil {
			src = bytes.NewReader(nil)
		}
		res := &Result{HasStream: true}
		if n, ok := stream.LengthOf(src); ok {
			res.StreamLength = &n
		}
		return res, src, nil
	case contract.ResultStructStream:
		rv := reflect.ValueOf(v)
		if v == nil || rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type() != m.ResultType.Elem() {
			b, err := c.Marshal(v)
			return &Result{Value: b}, nil, err
		}
		shallow := reflect.New(rv.Elem().Type())
		shallow.Elem().Set(rv.Elem())
		field := shallow.Elem().Field(m.StreamField)
		src, _ := field.Interface().(io.Reader)
		field.Set(reflect.Zero(field.Type()))
		b, err := c.Marshal(shallow.Interface())
		if err != nil {
			return nil, nil, err
		}
		res := &Result{Value: b}
		if src != nil {
			res.HasStream = true
			if n, ok := stream.LengthOf(src); ok {
				res.StreamLength = &n
			}
		}
		return res, src, nil
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &Result{Value: b}, nil, nil
}

// DecodeResult rebuilds the value a method returned. s is the received result
// stream, if any.
func DecodeResult(c codec.Codec, m *contract.Method, res *Result, s io.ReadCloser) (any, error) {
	switch m.Result {
	case contract.ResultNone:
		return nil, nil
	case contract.ResultStream:
		if s == nil {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return s, nil
	}
	v, err := DecodeValue(c, res.Value, m.ResultType)
	if err != nil {
		return nil, err
	}
	if m.Result == contract.ResultStructStream && s != nil && v.Kind() == reflect.Ptr && !v.IsNil() {
		v.Elem().Field(m.StreamField).Set(reflect.ValueOf(s))
	}
	return v.Interface(), nil
}
