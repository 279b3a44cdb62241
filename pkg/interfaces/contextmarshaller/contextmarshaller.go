package contextmarshaller

import (
	"context"

	"github.com/f0mster/netrpc/pkg/metadata"
)

// ContextMarshaller moves what a call context carries (metadata, deadline)
// into the call header and back.
type ContextMarshaller interface {
	Marshal(ctx context.Context) (metadata.Metadata, error)
	Unmarshal(parent context.Context, header metadata.Metadata) (context.Context, context.CancelFunc, error)
}
