package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"

	"github.com/f0mster/netrpc/internal/config"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/pubsub"
	kafkapubsub "github.com/f0mster/netrpc/pkg/pubsub/kafka"
	natspubsub "github.com/f0mster/netrpc/pkg/pubsub/nats"
	redispubsub "github.com/f0mster/netrpc/pkg/pubsub/redis"
	"github.com/f0mster/netrpc/pkg/rpc"
	httptransport "github.com/f0mster/netrpc/pkg/transport/http"
	"github.com/f0mster/netrpc/pkg/transport/mq"
	wstransport "github.com/f0mster/netrpc/pkg/transport/websocket"
)

func newBroker(cfg *config.Config, log logger.Logger) (pubsub.Broker, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return natspubsub.New(cfg.NATSURL)
	case config.TransportRedis:
		return redispubsub.New("tcp", cfg.RedisAddr, cfg.RedisPoolSize, log)
	case config.TransportKafka:
		kc := sarama.NewConfig()
		kc.Producer.RequiredAcks = sarama.WaitForAll
		kc.Producer.Return.Successes = true
		kc.Consumer.Return.Errors = true
		kc.Consumer.Offsets.Initial = sarama.OffsetNewest
		return kafkapubsub.New(kc, cfg.KafkaBrokers, log)
	}
	return nil, fmt.Errorf("%s is not a message queue transport", cfg.Transport)
}

// newListener builds the server side of the configured transport. HTTP based
// transports are routed on router.
func newListener(cfg *config.Config, router gin.IRoutes, log logger.Logger) (rpc.Listener, func(), error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		s := httptransport.NewServer(log)
		s.RegisterRoutes(router)
		return s, func() {}, nil
	case config.TransportWebsocket:
		s := wstransport.NewServer(log)
		s.RegisterRoutes(router, cfg.WebsocketPath)
		return s, s.Close, nil
	case config.TransportMemory:
		return nil, nil, fmt.Errorf("memory transport only works in process, use the local command")
	}
	broker, err := newBroker(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	s := mq.NewServer(broker, log)
	return s, func() {
		_ = s.Close()
		broker.Close()
	}, nil
}

func newClientTransport(ctx context.Context, cfg *config.Config, log logger.Logger) (rpc.ClientTransport, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	switch cfg.Transport {
	case config.TransportHTTP:
		c, err := httptransport.NewClient(ctx, cfg.Endpoint, httptransport.WithHub(), httptransport.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	case config.TransportWebsocket:
		endpoint := "ws" + strings.TrimPrefix(strings.TrimRight(cfg.Endpoint, "/"), "http") + cfg.WebsocketPath
		c, err := wstransport.Dial(ctx, endpoint, log)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	case config.TransportMemory:
		return nil, nil, fmt.Errorf("memory transport only works in process, use the local command")
	}
	broker, err := newBroker(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	c, err := mq.NewClient(ctx, broker, log)
	if err != nil {
		broker.Close()
		return nil, nil, err
	}
	return c, func() {
		_ = c.Close()
		broker.Close()
	}, nil
}
