package contextmarshaller

import (
	"context"
	"fmt"
	"time"

	"github.com/f0mster/netrpc/pkg/metadata"
)

// DeadlineKey is the header entry holding the caller's deadline.
const DeadlineKey = "x-netrpc-deadline"

type DefaultCtxMarshaller struct {
}

func (d *DefaultCtxMarshaller) Marshal(ctx context.Context) (metadata.Metadata, error) {
	md, _ := metadata.FromContext(ctx)
	header := md.Copy()
	if dl, ok := ctx.Deadline(); ok {
		header[DeadlineKey] = dl.UTC().Format(time.RFC3339Nano)
	}
	return header, nil
}

func (d *DefaultCtxMarshaller) Unmarshal(parent context.Context, header metadata.Metadata) (context.Context, context.CancelFunc, error) {
	md := header.Copy()
	raw, ok := md[DeadlineKey]
	delete(md, DeadlineKey)

	if !ok || raw == "" {
		ctx, cancel := context.WithCancel(parent)
		return metadata.NewContext(ctx, md), cancel, nil
	}
	dl, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("bad deadline %q: %w", raw, err)
	}
	ctx, cancel := context.WithDeadline(parent, dl)
	return metadata.NewContext(ctx, md), cancel, nil
}
