package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/transport/framed"
)

// Server accepts websocket connections and serves framed calls on them.
type Server struct {
	log        logger.Logger
	upgrader   websocket.Upgrader
	dispatcher *framed.Dispatcher
	ctx        context.Context
	cancel     context.CancelFunc
}

var _ rpc.Listener = (*Server)(nil)

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = &logger.DefaultLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		dispatcher: framed.NewDispatcher(rpc.ChannelWebsocket, log),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Listen implements rpc.Listener.
func (s *Server) Listen(ctx context.Context, namespace string, handle rpc.Handler) (context.CancelFunc, error) {
	return s.dispatcher.Listen(ctx, namespace, handle)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "failed to upgrade websocket connection", "", "", r.RemoteAddr)
		return
	}
	conn := NewConn(ws)
	defer conn.Close()

	s.log.Debug("websocket connection established: "+ws.RemoteAddr().String(), "", "")
	if err := s.dispatcher.Serve(s.ctx, conn); err != nil && s.ctx.Err() == nil {
		s.log.Debug("websocket connection closed: "+err.Error(), "", "")
	}
}

// HandleWebSocket is the gin handler of the server.
func (s *Server) HandleWebSocket(c *gin.Context) {
	s.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) RegisterRoutes(router gin.IRoutes, path string) {
	router.GET(path, s.HandleWebSocket)
}

// Close drops every connection; calls in flight are cancelled.
func (s *Server) Close() {
	s.cancel()
}
