package metadata

import (
	"context"
)

// Metadata is the string keyed call header. It travels with every call.
type Metadata map[string]string

type ctxKey struct{}

// Copy returns a shallow copy of md. Copy of nil metadata is an empty map.
func (md Metadata) Copy() Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func NewContext(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, ctxKey{}, md)
}

func FromContext(ctx context.Context) (Metadata, bool) {
	md, ok := ctx.Value(ctxKey{}).(Metadata)
	return md, ok
}

// Set returns a child context whose metadata has key set to value.
// Metadata of ctx itself stays untouched.
func Set(ctx context.Context, key, value string) context.Context {
	md, _ := FromContext(ctx)
	md = md.Copy()
	md[key] = value
	return NewContext(ctx, md)
}

func Get(ctx context.Context, key string) (string, bool) {
	md, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	v, ok := md[key]
	return v, ok
}
