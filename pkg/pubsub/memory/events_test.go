package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	tests "github.com/f0mster/netrpc/internal/test"
)

func TestEvents(t *testing.T) {
	r := New()
	defer r.Close()
	tests.PubSub_Test(t, r, 0)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	r := New()
	defer r.Close()
	require.NoError(t, r.PublishToTopic("nobody", []byte("x")))
}

func TestUnsubscribeFromTopic(t *testing.T) {
	r := New()
	defer r.Close()
	got := make(chan []byte, 1)
	_, err := r.SubscribeForTopic("t", func(event []byte) error {
		got <- event
		return nil
	})
	require.NoError(t, err)
	r.UnsubscribeFromTopic("t")
	require.NoError(t, r.PublishToTopic("t", []byte("x")))
	require.Empty(t, got)
}
