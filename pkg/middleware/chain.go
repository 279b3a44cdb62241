package middleware

import (
	"github.com/f0mster/netrpc/pkg/rpc"
)

// Handler runs a call.
type Handler[C any] func(c C) error

// Middleware wraps everything after it in the chain.
type Middleware[C any] func(next Handler[C]) Handler[C]

// Build composes stages in registration order; terminal runs innermost.
func Build[C any](terminal Handler[C], stages ...Middleware[C]) Handler[C] {
	h := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

type Chain[C any] struct {
	stages []Middleware[C]
}

func (ch *Chain[C]) Use(stages ...Middleware[C]) *Chain[C] {
	ch.stages = append(ch.stages, stages...)
	return ch
}

func (ch *Chain[C]) Len() int {
	return len(ch.stages)
}

func (ch *Chain[C]) Build(terminal Handler[C]) Handler[C] {
	return Build(terminal, ch.stages...)
}

type (
	CallHandler    = Handler[*rpc.CallContext]
	CallMiddleware = Middleware[*rpc.CallContext]
	CallChain      = Chain[*rpc.CallContext]
)
