package http

import (
	"context"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/transport/framed"
)

// serverCall answers one posted call on its response writer.
type serverCall struct {
	s            *Server
	w            gin.ResponseWriter
	r            *nethttp.Request
	param        *rpc.CallParam
	upload       io.ReadCloser
	connectionID string

	// callbacks counts the callbacks written to the hub
	callbacks atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	aborted  bool
	answered bool
}

var _ rpc.ServerAdapter = (*serverCall)(nil)

func (c *serverCall) abort() {
	c.mu.Lock()
	c.aborted = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *serverCall) ChannelType() rpc.ChannelType {
	return rpc.ChannelHTTP
}

func (c *serverCall) Start(ctx context.Context, cancel context.CancelFunc) error {
	c.mu.Lock()
	c.cancel = cancel
	aborted := c.aborted
	c.mu.Unlock()
	if aborted {
		cancel()
		return nil
	}
	if c.param.Action.FireAndForget {
		// answered with 202; the caller may already be gone
		return nil
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-c.r.Context().Done():
			cancel()
		}
	}()
	return nil
}

func (c *serverCall) ReceiveCallParam(ctx context.Context) (*rpc.CallParam, error) {
	return c.param, nil
}

func (c *serverCall) OpenRequestStream(ctx context.Context, length *int64) (io.ReadCloser, error) {
	if c.upload == nil {
		return io.NopCloser(eofReader{}), nil
	}
	return c.upload, nil
}

// answer marks the response as started. It fails once the status line is out.
func (c *serverCall) answer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answered {
		return errAnswered
	}
	c.answered = true
	c.w.Header().Set(HeaderCallbacks, strconv.FormatInt(c.callbacks.Load(), 10))
	return nil
}

func (c *serverCall) SendResult(ctx context.Context, r *rpc.Result) (bool, error) {
	if err := c.answer(); err != nil {
		return false, err
	}
	h := c.w.Header()
	if !r.HasStream {
		h.Set("Content-Type", contentJSON)
		c.w.WriteHeader(nethttp.StatusOK)
		_, err := c.w.Write(r.Value)
		return false, err
	}
	h.Set("Content-Type", contentStream)
	h.Set("Trailer", TrailerStream)
	h.Set(HeaderResult, url.QueryEscape(string(r.Value)))
	if r.StreamLength != nil {
		h.Set(HeaderStreamLength, strconv.FormatInt(*r.StreamLength, 10))
	}
	c.w.WriteHeader(nethttp.StatusOK)
	c.w.Flush()
	return true, nil
}

func (c *serverCall) SendFault(ctx context.Context, d *fault.Descriptor) error {
	if err := c.answer(); err != nil {
		return err
	}
	writeFault(c.w, d)
	return nil
}

func (c *serverCall) SendCallback(ctx context.Context, callID string, payload []byte) error {
	hub := c.s.hub(c.connectionID)
	if hub == nil {
		c.s.log.Debug("no callback hub for "+callID, c.param.Action.Contract, c.param.Action.Method)
		return nil
	}
	if err := hub.Send(ctx, &framed.Frame{ID: callID, Kind: framed.KindCallback, Data: payload}); err != nil {
		return err
	}
	c.callbacks.Add(1)
	return nil
}

func (c *serverCall) SendChunk(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.w.Write(chunk); err != nil {
		return err
	}
	c.w.Flush()
	return nil
}

func (c *serverCall) SendStreamEnd(ctx context.Context) error {
	c.w.Header().Set(TrailerStream, StreamEnd)
	return nil
}

func (c *serverCall) SendStreamCancelled(ctx context.Context) error {
	c.w.Header().Set(TrailerStream, StreamCancelled)
	return nil
}

func (c *serverCall) SendStreamFaulted(ctx context.Context) error {
	c.w.Header().Set(TrailerStream, StreamFaulted)
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
