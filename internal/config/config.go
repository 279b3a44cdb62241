// Package config loads the settings of the netrpc binaries from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logPrefix = "config:Load"

const (
	TransportMemory    = "memory"
	TransportWebsocket = "websocket"
	TransportHTTP      = "http"
	TransportNATS      = "nats"
	TransportRedis     = "redis"
	TransportKafka     = "kafka"
)

// Config is read from NETRPC_* variables.
type Config struct {
	Transport string `envconfig:"TRANSPORT" default:"http"`

	// ListenAddr is where serve binds the http and websocket transports and metrics.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	// Endpoint is the base URL clients call for http and websocket.
	Endpoint      string `envconfig:"ENDPOINT" default:"http://127.0.0.1:8080"`
	WebsocketPath string `envconfig:"WEBSOCKET_PATH" default:"/rpc"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`

	NATSURL       string   `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	RedisAddr     string   `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPoolSize int      `envconfig:"REDIS_POOL_SIZE" default:"10"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS" default:"127.0.0.1:9092"`

	CallTimeout  time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`
	CancelGrace  time.Duration `envconfig:"CANCEL_GRACE" default:"3s"`
	AcceptTimeout time.Duration `envconfig:"ACCEPT_TIMEOUT" default:"10s"`
	ChunkSize    int           `envconfig:"CHUNK_SIZE" default:"65536"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSize    int    `envconfig:"LOG_MAX_SIZE" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	LogMaxAge     int    `envconfig:"LOG_MAX_AGE" default:"28"`
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("netrpc", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	c.Transport = strings.ToLower(c.Transport)
	switch c.Transport {
	case TransportMemory, TransportWebsocket, TransportHTTP, TransportNATS, TransportRedis, TransportKafka:
	default:
		return fmt.Errorf("%s - unknown NETRPC_TRANSPORT %q", logPrefix, c.Transport)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%s - NETRPC_CHUNK_SIZE must be positive", logPrefix)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - NETRPC_CALL_TIMEOUT must be positive", logPrefix)
	}
	if c.Transport == TransportKafka && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("%s - NETRPC_KAFKA_BROKERS is required for kafka", logPrefix)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%s - NETRPC_LOG_LEVEL: %w", logPrefix, err)
	}
	return nil
}

// LogWriter returns stderr, or a rotating file when LogFile is set.
func (c *Config) LogWriter() io.Writer {
	if c.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSize, // megabytes
		MaxBackups: c.LogMaxBackups,
		MaxAge:     c.LogMaxAge, // days
	}
}

// Logger builds the zerolog logger of the binaries.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(c.LogWriter()).Level(level).With().Timestamp().Logger()
}
