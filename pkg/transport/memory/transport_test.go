package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	tests "github.com/f0mster/netrpc/internal/test"
	"github.com/f0mster/netrpc/internal/testlogger"
)

func TestConformance(t *testing.T) {
	tests.RunConformance(t, func(t *testing.T) tests.Transport {
		tr := New(time.Second, WithLogger(testlogger.New(t)))
		t.Cleanup(tr.Close)
		return tests.Transport{Listener: tr, Client: tr}
	})
}

func TestDialClosed(t *testing.T) {
	tr := New(time.Second)
	tr.Close()
	_, err := tr.Dial(context.Background())
	require.Equal(t, codes.Unavailable, status.Code(err))

	_, err = tr.NewAdapter(context.Background(), "c1", nil)
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestAddress(t *testing.T) {
	tr := New(time.Second)
	defer tr.Close()
	require.Contains(t, tr.GetRPCAddress(), "memory://")
}
