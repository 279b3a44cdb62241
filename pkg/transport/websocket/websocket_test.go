package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	tests "github.com/f0mster/netrpc/internal/test"
	"github.com/f0mster/netrpc/internal/testlogger"
)

func TestConformance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests.RunConformance(t, func(t *testing.T) tests.Transport {
		log := testlogger.New(t)
		srv := NewServer(log)
		router := gin.New()
		srv.RegisterRoutes(router, "/rpc")
		hs := httptest.NewServer(router)
		t.Cleanup(func() {
			srv.Close()
			hs.CloseClientConnections()
			hs.Close()
		})

		cli, err := Dial(context.Background(), "ws"+strings.TrimPrefix(hs.URL, "http")+"/rpc", log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = cli.Close() })
		return tests.Transport{Listener: srv, Client: cli}
	})
}

func TestDialRefused(t *testing.T) {
	hs := httptest.NewServer(gin.New())
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/rpc"
	hs.Close()
	_, err := Dial(context.Background(), url, testlogger.New(t))
	require.Error(t, err)
}
