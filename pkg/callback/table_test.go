package callback_test

import (
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/pkg/callback"
)

func TestDeliverInOrder(t *testing.T) {
	tbl := callback.NewTable()
	var got []string
	_, err := tbl.Register("a", func(p []byte) {
		got = append(got, string(p))
	})
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		require.True(t, tbl.Deliver("a", []byte(strconv.Itoa(i))))
	}
	tbl.Unregister("a")
	require.Len(t, got, 1000)
	for i := range got {
		require.Equal(t, strconv.Itoa(i), got[i])
	}
	require.Zero(t, tbl.Len())
}

func TestDuplicateRegistration(t *testing.T) {
	tbl := callback.NewTable()
	_, err := tbl.Register("a", nil)
	require.NoError(t, err)
	_, err = tbl.Register("a", nil)
	require.ErrorIs(t, err, callback.ErrDuplicateCall)
	tbl.Unregister("a")
	tbl.Unregister("a")
	_, err = tbl.Register("a", nil)
	require.NoError(t, err)
	tbl.Unregister("a")
}

func TestUnknownCallDropped(t *testing.T) {
	tbl := callback.NewTable()
	require.False(t, tbl.Deliver("nobody", []byte("x")))
	_, err := tbl.Register("a", func(p []byte) {})
	require.NoError(t, err)
	tbl.Unregister("a")
	require.False(t, tbl.Deliver("a", []byte("late")))
}

func TestIsolationBetweenCalls(t *testing.T) {
	tbl := callback.NewTable()
	const calls = 50
	const perCall = 200
	var mu sync.Mutex
	got := map[string][]string{}
	for i := 0; i < calls; i++ {
		id := fmt.Sprintf("call-%d", i)
		_, err := tbl.Register(id, func(p []byte) {
			mu.Lock()
			got[id] = append(got[id], string(p))
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg := sync.WaitGroup{}
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perCall; j++ {
				tbl.Deliver(id, []byte(id+"/"+strconv.Itoa(j)))
			}
		}(fmt.Sprintf("call-%d", i))
	}
	wg.Wait()
	for i := 0; i < calls; i++ {
		tbl.Unregister(fmt.Sprintf("call-%d", i))
	}
	for id, list := range got {
		require.Len(t, list, perCall)
		for j, p := range list {
			require.Equal(t, id+"/"+strconv.Itoa(j), p)
		}
	}
	require.Len(t, got, calls)
}
