package fault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/f0mster/netrpc/pkg/fault"
)

type DivideByZero struct {
	Msg      string `json:"msg"`
	Dividend int    `json:"dividend"`
}

func (e *DivideByZero) Error() string {
	return e.Msg
}

type Overflow struct {
	Limit int `json:"limit"`
}

func (e Overflow) Error() string {
	return fmt.Sprintf("overflow above %d", e.Limit)
}

type stringFault string

func (s stringFault) Error() string {
	return string(s)
}

var divideByZero = fault.KindOf("DivideByZero", func(msg string) *DivideByZero {
	return &DivideByZero{Msg: msg}
})

func TestDeclaredFaultRoundTrip(t *testing.T) {
	mappings := []fault.Mapping{{Code: "1", Kind: divideByZero}}
	src := &DivideByZero{Msg: "division by zero", Dividend: 10}

	d := fault.ToDescriptor(fmt.Errorf("divide: %w", src), mappings)
	require.Equal(t, fault.StatusFault, d.StatusCode)
	require.Equal(t, "1", d.Code)
	require.Equal(t, "DivideByZero", d.Type)
	require.Equal(t, "division by zero", d.Message())

	err := fault.FromDescriptor(d, mappings)
	var got *DivideByZero
	require.ErrorAs(t, err, &got)
	require.Equal(t, "division by zero", got.Error())
	require.Equal(t, 10, got.Dividend)
}

func TestParameterlessKind(t *testing.T) {
	kind := fault.KindOf[Overflow]("Overflow", nil)
	mappings := []fault.Mapping{{Code: "overflow", Kind: kind, StatusCode: 422}}

	d := fault.ToDescriptor(Overflow{Limit: 7}, mappings)
	require.Equal(t, 422, d.StatusCode)

	err := fault.FromDescriptor(d, mappings)
	require.Equal(t, Overflow{Limit: 7}, err)
	require.Equal(t, "overflow above 7", err.Error())
}

func TestKindOfPanicsWhenNotConstructible(t *testing.T) {
	require.Panics(t, func() {
		fault.KindOf[stringFault]("str", nil)
	})
	require.NotPanics(t, func() {
		fault.KindOf("str", func(msg string) stringFault { return stringFault(msg) })
	})
}

func TestUnhandled(t *testing.T) {
	d := fault.ToDescriptor(errors.New("boom"), []fault.Mapping{{Code: "1", Kind: divideByZero}})
	require.Equal(t, fault.StatusUnhandled, d.StatusCode)
	require.Empty(t, d.Code)

	err := fault.FromDescriptor(d, nil)
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "boom", fe.Message)
	require.Equal(t, fault.StatusUnhandled, fe.StatusCode)
}

func TestCancellation(t *testing.T) {
	for _, err := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		fmt.Errorf("wrapped: %w", context.Canceled),
		status.New(codes.Canceled, "").Err(),
		status.New(codes.DeadlineExceeded, "").Err(),
	} {
		require.True(t, fault.IsCancellation(err), err)
		d := fault.ToDescriptor(err, nil)
		require.Equal(t, fault.StatusCancelled, d.StatusCode)
		back := fault.FromDescriptor(d, nil)
		require.ErrorIs(t, back, context.Canceled)
		require.True(t, fault.IsCancellation(back))
	}
	require.False(t, fault.IsCancellation(nil))
	require.False(t, fault.IsCancellation(errors.New("x")))
	require.False(t, fault.IsCancellation(status.New(codes.ResourceExhausted, "queue is full").Err()))
}

func TestTextError(t *testing.T) {
	d := fault.ToDescriptor(&fault.TextError{StatusCode: 403, Text: "forbidden"}, nil)
	require.Equal(t, 403, d.StatusCode)
	err := fault.FromDescriptor(d, nil)
	var te *fault.TextError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "forbidden", te.Text)

	// reserved statuses stay text errors
	d = fault.ToDescriptor(&fault.TextError{StatusCode: 500, Text: "bad gateway"}, nil)
	require.Equal(t, fault.TypeText, d.Type)
	require.ErrorAs(t, fault.FromDescriptor(d, nil), &te)
	require.Equal(t, 500, te.StatusCode)
}

func TestRawPayload(t *testing.T) {
	err := fault.FromDescriptor(&fault.Descriptor{StatusCode: fault.StatusUnhandled, Payload: []byte(`"not an object"`)}, nil)
	require.Equal(t, `"not an object"`, err.Error())
}

func TestRegistry(t *testing.T) {
	r := fault.NewRegistry(divideByZero)
	k, ok := r.Lookup("DivideByZero")
	require.True(t, ok)
	require.Equal(t, "DivideByZero", k.Name)
	require.Error(t, r.Register(divideByZero))
	_, ok = r.Lookup("nope")
	require.False(t, ok)
}
