package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/f0mster/netrpc/pkg/middleware"
	"github.com/f0mster/netrpc/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the storage service on the configured transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())

		reg := prometheus.NewRegistry()
		metrics := middleware.NewMetrics(reg, "netrpc")
		router.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

		listener, closeListener, err := newListener(cfg, router, log)
		if err != nil {
			return err
		}
		defer closeListener()

		srv, err := server.NewServer(server.Config{
			Logger:    log,
			ChunkSize: cfg.ChunkSize,
			Middleware: []middleware.CallMiddleware{
				metrics.Middleware(),
				middleware.Logging(log),
				middleware.StreamLogging(log),
			},
		}, server.WithTransport(listener))
		if err != nil {
			return err
		}
		if err := srv.Register(NewStorageDescriptor(), newStore()); err != nil {
			return err
		}

		hs := &http.Server{Addr: cfg.ListenAddr, Handler: router}
		go func() {
			zl.Info().Str("addr", cfg.ListenAddr).Str("transport", cfg.Transport).Msg("listening")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error().Err(err).Msg("http server failed")
				_ = srv.Stop()
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)
		go func() {
			if _, ok := <-sig; ok {
				zl.Info().Msg("stopping")
				_ = srv.Stop()
			}
		}()

		err = srv.Start()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
		return err
	},
}
