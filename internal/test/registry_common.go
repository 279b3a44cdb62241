package tests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/pkg/registry"
)

// Registry_Test checks watchers of reg1 observe instances registered through reg2.
func Registry_Test(reg1 registry.Registry, reg2 registry.Registry, t *testing.T) {
	wg := sync.WaitGroup{}
	stop := reg1.WatchRegistered("ns1", func() {
		wg.Done()
	})
	stop7 := reg1.WatchRegistered("nsa", func() {
		t.Error("wrong namespace notified")
	})

	wg.Add(1)
	reg2.Register("ns1", "inst:1")
	wg.Wait()
	require.Equal(t, map[registry.InstanceId]bool{"inst:1": true}, reg1.Instances("ns1"))

	stop3 := reg1.WatchUnregistered("ns2", func() {
		t.Error("wrong namespace notified")
	})
	stop4 := reg1.WatchInstanceUnregistered("ns2", func(instanceId registry.InstanceId) {
		t.Error("wrong namespace notified")
	})

	wg.Add(2)
	stop5 := reg1.WatchUnregistered("ns1", func() {
		wg.Done()
	})
	stop6 := reg1.WatchInstanceUnregistered("ns1", func(instanceId registry.InstanceId) {
		require.Equal(t, registry.InstanceId("inst:1"), instanceId)
		wg.Done()
	})
	reg2.Unregister("ns1", "inst:1")
	wg.Wait()
	require.Empty(t, reg1.Instances("ns1"))

	stop()
	stop3()
	stop4()
	stop5()
	stop6()
	stop7()

	registered := make(chan registry.InstanceId, 1)
	stop8 := reg1.WatchInstanceRegistered("ns1", func(instanceId registry.InstanceId) {
		registered <- instanceId
	})
	defer stop8()
	reg2.Register("ns1", "inst:2")
	select {
	case id := <-registered:
		require.Equal(t, registry.InstanceId("inst:2"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("instance registration not observed")
	}
	reg2.Unregister("ns1", "inst:2")
}
