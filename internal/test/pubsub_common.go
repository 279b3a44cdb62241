package tests

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/pkg/pubsub"
)

// PubSub_Test checks fan-out ordering and queue groups of a broker.
// settle is how long a new subscription may take to become active.
func PubSub_Test(t *testing.T, broker pubsub.Broker, settle time.Duration) {
	const events = 100
	ns := "ns" + uuid.NewString()[:8]

	t.Run("fan out in order", func(t *testing.T) {
		var mu sync.Mutex
		got := map[int][]string{}
		done := make(chan struct{}, 2)
		var cancels []pubsub.CancelFunc
		for i := 0; i < 2; i++ {
			i := i
			cancel, err := broker.Subscribe(ns, "fan", func(event []byte) error {
				mu.Lock()
				got[i] = append(got[i], string(event))
				n := len(got[i])
				mu.Unlock()
				if n == events {
					done <- struct{}{}
				}
				return nil
			})
			require.NoError(t, err)
			cancels = append(cancels, cancel)
		}
		defer func() {
			for _, c := range cancels {
				c()
			}
		}()
		time.Sleep(settle)
		for j := 0; j < events; j++ {
			require.NoError(t, broker.Publish(ns, "fan", []byte(strconv.Itoa(j))))
		}
		for i := 0; i < 2; i++ {
			select {
			case <-done:
			case <-time.After(30 * time.Second):
				t.Fatal("events not delivered")
			}
		}
		mu.Lock()
		defer mu.Unlock()
		for i := 0; i < 2; i++ {
			for j, e := range got[i] {
				require.Equal(t, strconv.Itoa(j), e, "subscriber %d", i)
			}
		}
	})

	t.Run("queue group", func(t *testing.T) {
		topic := pubsub.Topic(ns, "work")
		var mu sync.Mutex
		seen := map[string]int{}
		all := make(chan struct{})
		var cancels []pubsub.CancelFunc
		for i := 0; i < 3; i++ {
			cancel, err := broker.QueueSubscribe(topic, "workers", func(event []byte) error {
				mu.Lock()
				defer mu.Unlock()
				seen[string(event)]++
				if len(seen) == events {
					select {
					case <-all:
					default:
						close(all)
					}
				}
				return nil
			})
			require.NoError(t, err)
			cancels = append(cancels, cancel)
		}
		defer func() {
			for _, c := range cancels {
				c()
			}
		}()
		time.Sleep(settle)
		for j := 0; j < events; j++ {
			require.NoError(t, broker.PublishToTopic(topic, []byte(fmt.Sprintf("job-%d", j))))
		}
		select {
		case <-all:
		case <-time.After(30 * time.Second):
			t.Fatal("jobs not delivered")
		}
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		for job, n := range seen {
			require.Equal(t, 1, n, job)
		}
	})

	t.Run("unsubscribe", func(t *testing.T) {
		received := make(chan string, events)
		cancel, err := broker.Subscribe(ns, "gone", func(event []byte) error {
			received <- string(event)
			return nil
		})
		require.NoError(t, err)
		time.Sleep(settle)
		require.NoError(t, broker.Publish(ns, "gone", []byte("first")))
		select {
		case e := <-received:
			require.Equal(t, "first", e)
		case <-time.After(30 * time.Second):
			t.Fatal("event not delivered")
		}
		cancel()
		time.Sleep(settle)
		require.NoError(t, broker.Publish(ns, "gone", []byte("second")))
		select {
		case e := <-received:
			t.Fatalf("received %s after cancel", e)
		case <-time.After(200 * time.Millisecond):
		}
	})
}
