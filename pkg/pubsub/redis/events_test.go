package redis

import (
	"testing"
	"time"

	"github.com/mediocregopher/radix/v3"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"

	tests "github.com/f0mster/netrpc/internal/test"
	"github.com/f0mster/netrpc/internal/testlogger"
)

// startRedis runs redis in docker and returns its address.
func startRedis(t *testing.T) string {
	return tests.StartContainer(t, &dockertest.RunOptions{
		Repository: "redis",
		Tag:        "6.0.8-alpine3.12",
	}, "6379/tcp", func(addr string) error {
		conn, err := radix.Dial("tcp", addr)
		if err != nil {
			return err
		}
		defer conn.Close()
		return conn.Do(radix.Cmd(nil, "PING"))
	})
}

func TestEvents(t *testing.T) {
	addr := startRedis(t)
	r, err := New("tcp", addr, 8, testlogger.New(t))
	require.NoError(t, err)
	defer r.Close()
	tests.PubSub_Test(t, r, 100*time.Millisecond)
}
