package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/stream"
	"github.com/f0mster/netrpc/pkg/transport/framed"
	wstransport "github.com/f0mster/netrpc/pkg/transport/websocket"
)

const chunkSize = 64 * 1024

type Option func(c *Client)

func WithHTTPClient(hc *nethttp.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithHub opens the callback connection when the client is created.
// Without it callbacks are not delivered and cancellation only aborts
// the request.
func WithHub() Option {
	return func(c *Client) {
		c.withHub = true
	}
}

// Client is a rpc.ClientTransport posting each call as one request.
type Client struct {
	base         string
	http         *nethttp.Client
	log          logger.Logger
	connectionID string
	withHub      bool
	hub          *wstransport.Conn
	stop         context.CancelFunc
	done         chan struct{}

	mu    sync.Mutex
	calls map[string]*clientCall
}

var _ rpc.ClientTransport = (*Client)(nil)

func NewClient(ctx context.Context, baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		base:         strings.TrimRight(baseURL, "/"),
		http:         nethttp.DefaultClient,
		log:          &logger.DefaultLogger{},
		connectionID: uuid.NewString(),
		calls:        map[string]*clientCall{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.withHub {
		return c, nil
	}
	if err := c.dialHub(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dialHub(ctx context.Context) error {
	u, err := url.Parse(c.base + CallbackPath)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"connectionId": {c.connectionID}}.Encode()
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial callback hub: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	hub := wstransport.NewConn(ws)
	startCtx, cancel := context.WithTimeout(ctx, dialer.HandshakeTimeout)
	defer cancel()
	f, err := hub.Recv(startCtx)
	if err == nil && f.Kind != framed.KindStart {
		err = fmt.Errorf("unexpected %s frame", f.Kind)
	}
	if err != nil {
		_ = hub.Close()
		return fmt.Errorf("start callback hub: %w", err)
	}
	c.hub = hub
	hubCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	c.stop = stop
	c.done = make(chan struct{})
	go c.readHub(hubCtx)
	return nil
}

func (c *Client) readHub(ctx context.Context) {
	defer close(c.done)
	for {
		f, err := c.hub.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("callback hub closed: "+err.Error(), "", "")
			}
			return
		}
		if f.Kind != framed.KindCallback {
			continue
		}
		c.mu.Lock()
		cc := c.calls[f.ID]
		c.mu.Unlock()
		if cc == nil {
			c.log.Debug("callback dropped for "+f.ID, "", "")
			continue
		}
		cc.deliver(f.Data)
	}
}

// ConnectionID identifies the client's callback hub on the server.
func (c *Client) ConnectionID() string {
	return c.connectionID
}

// Pending returns the number of calls holding a callback route.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *Client) Close() error {
	if c.hub == nil {
		return nil
	}
	c.stop()
	err := c.hub.Close()
	<-c.done
	return err
}

// NewAdapter implements rpc.ClientTransport.
func (c *Client) NewAdapter(ctx context.Context, callID string, sink rpc.CallbackSink) (rpc.ClientAdapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.calls[callID]; ok {
		return nil, fmt.Errorf("call %s already in flight", callID)
	}
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cc := &clientCall{
		c:       c,
		id:      callID,
		sink:    sink,
		ctx:     reqCtx,
		cancel:  cancel,
		replies: framed.NewQueue[*rpc.Reply](),
		arrived: make(chan struct{}),
	}
	c.calls[callID] = cc
	return cc, nil
}

func (c *Client) forget(callID string) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}

type clientCall struct {
	c       *Client
	id      string
	sink    rpc.CallbackSink
	ctx     context.Context
	cancel  context.CancelFunc
	replies *framed.Queue[*rpc.Reply]

	cbMu     sync.Mutex
	received int64
	arrived  chan struct{}

	mu   sync.Mutex
	pw   *io.PipeWriter
	mw   *multipart.Writer
	part io.Writer
}

// deliver hands a hub callback to the call's sink and counts it.
func (cc *clientCall) deliver(payload []byte) {
	if cc.sink == nil || !cc.sink.Deliver(cc.id, payload) {
		cc.c.log.Debug("callback dropped for "+cc.id, "", "")
	}
	cc.cbMu.Lock()
	cc.received++
	close(cc.arrived)
	cc.arrived = make(chan struct{})
	cc.cbMu.Unlock()
}

// awaitCallbacks blocks until the callbacks the server reported sending
// before its answer came in on the hub.
func (cc *clientCall) awaitCallbacks(resp *nethttp.Response) {
	if cc.c.hub == nil {
		return
	}
	sent, err := strconv.ParseInt(resp.Header.Get(HeaderCallbacks), 10, 64)
	if err != nil || sent <= 0 {
		return
	}
	for {
		cc.cbMu.Lock()
		received, arrived := cc.received, cc.arrived
		cc.cbMu.Unlock()
		if received >= sent {
			return
		}
		select {
		case <-arrived:
		case <-cc.ctx.Done():
			return
		case <-cc.c.done:
			return
		}
	}
}

func (cc *clientCall) Start(ctx context.Context) error {
	return nil
}

func (cc *clientCall) SendCallParam(ctx context.Context, p *rpc.CallParam) error {
	req := &request{
		CallID:        p.CallID,
		Header:        p.Header,
		Args:          p.Args,
		FireAndForget: p.Action.FireAndForget,
		HasStream:     p.HasStream,
		StreamLength:  p.StreamLength,
		PostBody:      p.PostBody,
	}
	if cc.c.hub != nil {
		req.ConnectionID = cc.c.connectionID
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	endpoint := cc.c.base + "/" + url.PathEscape(p.Action.Contract) + "/" + url.PathEscape(p.Action.Method)

	if !p.HasStream {
		hr, err := nethttp.NewRequestWithContext(cc.ctx, nethttp.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return err
		}
		hr.Header.Set("Content-Type", contentJSON)
		if p.Action.FireAndForget {
			return cc.post(ctx, hr)
		}
		go cc.do(hr)
		return nil
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	hr, err := nethttp.NewRequestWithContext(cc.ctx, nethttp.MethodPost, endpoint, pr)
	if err != nil {
		return err
	}
	hr.Header.Set("Content-Type", mw.FormDataContentType())
	cc.mu.Lock()
	cc.pw, cc.mw = pw, mw
	cc.mu.Unlock()
	go cc.do(hr)

	field, err := mw.CreateFormField(partData)
	if err != nil {
		return err
	}
	if _, err := field.Write(data); err != nil {
		return err
	}
	part, err := mw.CreateFormFile(partStream, partStream)
	if err != nil {
		return err
	}
	cc.mu.Lock()
	cc.part = part
	cc.mu.Unlock()
	return nil
}

// post sends a fire-and-forget call and waits for the server to accept it.
func (cc *clientCall) post(ctx context.Context, hr *nethttp.Request) error {
	resp, err := cc.c.http.Do(hr.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	d := decodeFault(resp)
	return fault.FromDescriptor(d, nil)
}

func (cc *clientCall) do(hr *nethttp.Request) {
	resp, err := cc.c.http.Do(hr)
	if err != nil {
		cc.replies.Fail(err)
		return
	}
	defer resp.Body.Close()
	cc.awaitCallbacks(resp)

	switch {
	case resp.StatusCode == fault.StatusCancelled:
		cc.replies.Push(&rpc.Reply{Kind: rpc.ReplyCancelled, Fault: decodeFault(resp)})
	case resp.StatusCode/100 != 2:
		cc.replies.Push(&rpc.Reply{Kind: rpc.ReplyFault, Fault: decodeFault(resp)})
	case mediaType(resp) == contentStream:
		cc.readStream(resp)
	default:
		value, err := io.ReadAll(resp.Body)
		if err != nil {
			cc.replies.Fail(err)
			return
		}
		cc.replies.Push(&rpc.Reply{Kind: rpc.ReplyResult, Result: &rpc.Result{Value: value}})
	}
}

func (cc *clientCall) readStream(resp *nethttp.Response) {
	value, err := url.QueryUnescape(resp.Header.Get(HeaderResult))
	if err != nil {
		cc.replies.Fail(fmt.Errorf("bad %s header: %w", HeaderResult, err))
		return
	}
	res := &rpc.Result{HasStream: true}
	if value != "" {
		res.Value = []byte(value)
	}
	if l := resp.Header.Get(HeaderStreamLength); l != "" {
		if n, err := strconv.ParseInt(l, 10, 64); err == nil {
			res.StreamLength = &n
		}
	}
	cc.replies.Push(&rpc.Reply{Kind: rpc.ReplyResult, Result: res})

	buf := make([]byte, chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cc.replies.Push(&rpc.Reply{Kind: rpc.ReplyChunk, Data: chunk})
		}
		if err == nil {
			continue
		}
		switch {
		case err != io.EOF && cc.ctx.Err() != nil:
			cc.replies.Push(&rpc.Reply{Kind: rpc.ReplyStreamCancelled})
		case err != io.EOF:
			cc.replies.Push(&rpc.Reply{Kind: rpc.ReplyStreamFaulted})
		default:
			cc.replies.Push(&rpc.Reply{Kind: streamReply(resp.Trailer.Get(TrailerStream))})
		}
		return
	}
}

func streamReply(state string) rpc.ReplyKind {
	switch state {
	case StreamEnd:
		return rpc.ReplyStreamEnd
	case StreamCancelled:
		return rpc.ReplyStreamCancelled
	}
	return rpc.ReplyStreamFaulted
}

func mediaType(resp *nethttp.Response) string {
	t, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return t
}

// decodeFault reads a fault body. Bodies that are not a fault descriptor
// become text faults carrying the response status.
func decodeFault(resp *nethttp.Response) *fault.Descriptor {
	body, _ := io.ReadAll(resp.Body)
	if mediaType(resp) == contentJSON {
		d := &fault.Descriptor{}
		if err := json.Unmarshal(body, d); err == nil && d.StatusCode != 0 {
			return d
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = nethttp.StatusText(resp.StatusCode)
	}
	if text == "" {
		text = "status " + strconv.Itoa(resp.StatusCode)
	}
	return fault.ToDescriptor(&fault.TextError{StatusCode: resp.StatusCode, Text: text}, nil)
}

func (cc *clientCall) SendCancel(ctx context.Context) error {
	if cc.c.hub == nil {
		cc.cancel()
		return nil
	}
	return cc.c.hub.Send(ctx, &framed.Frame{ID: cc.id, Kind: framed.KindCancel})
}

func (cc *clientCall) Recv(ctx context.Context) (*rpc.Reply, error) {
	return cc.replies.Pop(ctx)
}

func (cc *clientCall) Close() error {
	cc.c.forget(cc.id)
	cc.cancel()
	if pw, _ := cc.upload(); pw != nil {
		_ = pw.CloseWithError(stream.ErrClosed)
	}
	cc.replies.Fail(framed.ErrSessionClosed)
	return nil
}

func (cc *clientCall) upload() (*io.PipeWriter, *multipart.Writer) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.pw, cc.mw
}

// SendChunk writes to the stream part. The relay is its only writer.
func (cc *clientCall) SendChunk(ctx context.Context, chunk []byte) error {
	cc.mu.Lock()
	part := cc.part
	cc.mu.Unlock()
	if part == nil {
		return stream.ErrClosed
	}
	_, err := part.Write(chunk)
	return err
}

func (cc *clientCall) SendStreamEnd(ctx context.Context) error {
	pw, mw := cc.upload()
	if mw == nil {
		return stream.ErrClosed
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return pw.Close()
}

func (cc *clientCall) SendStreamCancelled(ctx context.Context) error {
	return cc.closeUpload(stream.ErrStreamCancelled)
}

func (cc *clientCall) SendStreamFaulted(ctx context.Context) error {
	return cc.closeUpload(stream.ErrStreamFaulted)
}

func (cc *clientCall) closeUpload(err error) error {
	pw, _ := cc.upload()
	if pw == nil {
		return stream.ErrClosed
	}
	return pw.CloseWithError(err)
}
