package kafka_test

import (
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"

	tests "github.com/f0mster/netrpc/internal/test"
	"github.com/f0mster/netrpc/internal/testlogger"
	"github.com/f0mster/netrpc/pkg/pubsub/kafka"
)

func initKafka(t *testing.T) string {
	return tests.StartContainer(t, &dockertest.RunOptions{
		Repository: "johnnypark/kafka-zookeeper",
		Tag:        "2.6.0",
		Hostname:   "kafka",
		Env: []string{
			"ADVERTISED_HOST=127.0.0.1",
			"NUM_PARTITIONS=1",
		},
		PortBindings: map[docker.Port][]docker.PortBinding{
			"9092/tcp": {{HostIP: "localhost", HostPort: "9092/tcp"}},
		},
	}, "9092/tcp", func(addr string) error {
		client, err := sarama.NewClient([]string{addr}, config())
		if err != nil {
			return err
		}
		return client.Close()
	})
}

func config() *sarama.Config {
	config := sarama.NewConfig()
	config.Admin.Retry.Max = 10
	config.Admin.Retry.Backoff = 10 * time.Second
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	return config
}

func TestKafkaPubSub(t *testing.T) {
	broker := initKafka(t)
	r, err := kafka.New(config(), []string{broker}, testlogger.New(t))
	require.NoError(t, err)
	defer r.Close()
	tests.PubSub_Test(t, r, 2*time.Second)
}
