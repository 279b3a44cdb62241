package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/server"
	"github.com/f0mster/netrpc/pkg/transport/framed"
	wstransport "github.com/f0mster/netrpc/pkg/transport/websocket"
)

type route struct {
	ctx    context.Context
	handle rpc.Handler
}

// Server serves calls posted to /<contract>/<method>. Callbacks and cancel
// requests travel through the websocket hub of the caller's connection.
type Server struct {
	log      logger.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	routes map[string]route
	hubs   map[string]*wstransport.Conn
	calls  map[string]*serverCall
}

var _ rpc.Listener = (*Server)(nil)

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	return &Server{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		routes: map[string]route{},
		hubs:   map[string]*wstransport.Conn{},
		calls:  map[string]*serverCall{},
	}
}

// Listen implements rpc.Listener.
func (s *Server) Listen(ctx context.Context, namespace string, handle rpc.Handler) (context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[namespace]; ok {
		return nil, fmt.Errorf("namespace %s already listened", namespace)
	}
	s.routes[namespace] = route{ctx: ctx, handle: handle}
	return func() {
		s.mu.Lock()
		delete(s.routes, namespace)
		s.mu.Unlock()
	}, nil
}

func (s *Server) RegisterRoutes(router gin.IRoutes) {
	router.GET(CallbackPath, s.HandleHub)
	router.POST("/:contract/:method", s.HandleCall)
}

func (s *Server) route(contract string) (route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[contract]
	return r, ok
}

func (s *Server) hub(connectionID string) *wstransport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hubs[connectionID]
}

// HandleHub upgrades the callback connection of a client.
func (s *Server) HandleHub(c *gin.Context) {
	id := c.Query("connectionId")
	if id == "" {
		c.String(nethttp.StatusBadRequest, "connectionId is required")
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error(err, "failed to upgrade hub connection", "", "", id)
		return
	}
	conn := wstransport.NewConn(ws)
	s.mu.Lock()
	if old := s.hubs[id]; old != nil {
		_ = old.Close()
	}
	s.hubs[id] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.hubs[id] == conn {
			delete(s.hubs, id)
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()
	// the client posts calls only after this frame
	if err := conn.Send(c.Request.Context(), &framed.Frame{Kind: framed.KindStart}); err != nil {
		s.log.Error(err, "failed to start hub connection", "", "", id)
		return
	}

	for {
		f, err := conn.Recv(c.Request.Context())
		if err != nil {
			return
		}
		if f.Kind != framed.KindCancel {
			continue
		}
		s.mu.Lock()
		call := s.calls[f.ID]
		s.mu.Unlock()
		if call != nil && call.connectionID == id {
			call.abort()
		}
	}
}

// HandleCall serves one posted call.
func (s *Server) HandleCall(c *gin.Context) {
	contract, method := c.Param("contract"), c.Param("method")
	r, ok := s.route(contract)
	if !ok {
		err := fmt.Errorf("%w: %s", server.ErrUnknownContract, contract)
		writeFault(c.Writer, fault.ToDescriptor(err, nil))
		return
	}
	req, upload, err := decodeRequest(c.Request)
	if err != nil {
		writeFault(c.Writer, fault.ToDescriptor(&fault.TextError{
			StatusCode: nethttp.StatusBadRequest,
			Text:       err.Error(),
		}, nil))
		return
	}
	if upload != nil {
		// progress callbacks and the result may be written while the upload is still read
		_ = nethttp.NewResponseController(c.Writer).EnableFullDuplex()
	}
	call := &serverCall{
		s:            s,
		w:            c.Writer,
		r:            c.Request,
		connectionID: req.ConnectionID,
		upload:       upload,
		param: &rpc.CallParam{
			CallID: req.CallID,
			Header: req.Header,
			Action: rpc.ActionInfo{
				Contract:      contract,
				Method:        method,
				Path:          c.Request.URL.Path,
				FireAndForget: req.FireAndForget,
			},
			Args:         req.Args,
			HasStream:    req.HasStream,
			StreamLength: req.StreamLength,
			PostBody:     req.PostBody,
		},
	}
	if req.FireAndForget {
		c.Status(nethttp.StatusAccepted)
		c.Writer.WriteHeaderNow()
		c.Writer.Flush()
		call.answered = true
	}

	s.mu.Lock()
	if _, dup := s.calls[req.CallID]; dup {
		s.mu.Unlock()
		if !call.answered {
			writeFault(c.Writer, fault.ToDescriptor(&fault.TextError{
				StatusCode: nethttp.StatusConflict,
				Text:       "call " + req.CallID + " already in flight",
			}, nil))
		}
		return
	}
	s.calls[req.CallID] = call
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.calls, req.CallID)
		s.mu.Unlock()
	}()

	if err := r.handle(r.ctx, call); err != nil {
		s.log.Error(err, "call not served", contract, method, req.CallID)
		if !call.answered {
			writeFault(c.Writer, fault.ToDescriptor(&fault.TextError{
				StatusCode: nethttp.StatusInternalServerError,
				Text:       "call not served",
			}, nil))
		}
	}
}

func decodeRequest(r *nethttp.Request) (*request, io.ReadCloser, error) {
	req := &request{}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, nil, fmt.Errorf("bad call body: %w", err)
		}
		return req, nil, nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, err
	}
	part, err := mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("missing %s part: %w", partData, err)
	}
	if part.FormName() != partData {
		return nil, nil, fmt.Errorf("first part is %q, want %q", part.FormName(), partData)
	}
	if err := json.NewDecoder(part).Decode(req); err != nil {
		return nil, nil, fmt.Errorf("bad %s part: %w", partData, err)
	}
	if !req.HasStream {
		return req, nil, nil
	}
	part, err = mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("missing %s part: %w", partStream, err)
	}
	if part.FormName() != partStream {
		return nil, nil, fmt.Errorf("second part is %q, want %q", part.FormName(), partStream)
	}
	return req, part, nil
}

func writeFault(w nethttp.ResponseWriter, d *fault.Descriptor) {
	if d.Type == fault.TypeText {
		w.Header().Set("Content-Type", contentText)
		w.WriteHeader(d.StatusCode)
		_, _ = io.WriteString(w, d.Message())
		return
	}
	body, err := json.Marshal(d)
	if err != nil {
		w.WriteHeader(nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(d.StatusCode)
	_, _ = w.Write(body)
}

var errAnswered = errors.New("call already answered")
