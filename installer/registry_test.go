package installer

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilievs/edgesim/core"
	"github.com/ilievs/edgesim/logging"
	"github.com/ilievs/edgesim/mqtt"
)

func randomID() core.Identity {
	return core.Identity(strconv.Itoa(int(rand.Int64())))
}

func TestAddPending(t *testing.T) {

	var doneChan = make(chan int)
	var registry = NewRegistry(logging.Discard())
	for range 3 {
		go func() {
			for range 10 {
				registry.AddPending(randomID())
			}
			doneChan <- 1
		}()
	}

	<-doneChan
	<-doneChan
	<-doneChan

	actualDevCount := len(registry.ListDevices())
	if actualDevCount != 30 {
		t.Fatal("Expected 30 devices, but got", actualDevCount)
	}
}

func TestAddPendingKeepsExisting(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	registry.MarkInstalled("dev-1", "esp32")

	d, added := registry.AddPending("dev-1")
	assert.False(t, added)
	assert.Equal(t, StateInstalled, d.State)
}

func TestListDevicesSorted(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	for _, id := range []core.Identity{"c", "a", "b"} {
		registry.AddPending(id)
	}

	var ids []core.Identity
	for _, d := range registry.ListDevices() {
		ids = append(ids, d.SysID)
	}
	assert.Equal(t, []core.Identity{"a", "b", "c"}, ids)
}

func TestRemoveDevice(t *testing.T) {
	var registry = NewRegistry(logging.Discard())

	ids := make([]core.Identity, 0)
	for range 10 {
		ids = append(ids, randomID())
	}
	for i := range 10 {
		registry.AddPending(ids[i])
	}

	var doneChan = make(chan int)
	go func() {
		for range 10 {
			registry.AddPending(randomID())
		}
		doneChan <- 1
	}()
	go func() {
		for range 10 {
			registry.AddPending(randomID())
		}
		doneChan <- 1
	}()
	go func() {
		for i := range 10 {
			registry.Remove(ids[i])
		}
		doneChan <- 1
	}()

	<-doneChan
	<-doneChan
	<-doneChan

	actualDevCount := len(registry.ListDevices())
	if actualDevCount != 20 {
		t.Fatal("Expected 20 devices, but got", actualDevCount)
	}
}

func TestRecordReading(t *testing.T) {
	registry := NewRegistry(logging.Discard())

	err := registry.RecordReading("ghost", core.Reading{Value: 1})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	registry.MarkInstalled("dev-1", "m5stack")
	require.NoError(t, registry.RecordReading("dev-1", core.Reading{Value: 81.5, Device: "m5stack"}))
	require.NoError(t, registry.RecordReading("dev-1", core.Reading{Value: 82.0, Device: "m5stack"}))

	d, ok := registry.Get("dev-1")
	require.True(t, ok)
	assert.Equal(t, 2, d.Readings)
	require.NotNil(t, d.LastReading)
	assert.Equal(t, 82.0, d.LastReading.Value)
}

func TestRegistryStateChanges(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	changes := registry.SubscribeToStateChanges()

	registry.AddPending("dev-1")
	registry.MarkInstalled("dev-1", "esp32")
	registry.Remove("dev-1")
	registry.Remove("dev-1")

	for _, want := range []DeviceState{StatePending, StateInstalled, StateDeleted} {
		d := <-changes
		assert.Equal(t, core.Identity("dev-1"), d.SysID)
		assert.Equal(t, want, d.State)
	}
	assert.Empty(t, changes, "removing an unknown device must not notify")
}

func TestRegistrySessions(t *testing.T) {
	registry := NewRegistry(logging.Discard())

	var doneChan = make(chan int)
	for g := range 3 {
		go func() {
			for i := range 10 {
				registry.SessionOpened(mqtt.Session{ClientID: fmt.Sprintf("client-%d-%d", g, i)})
			}
			doneChan <- 1
		}()
	}
	<-doneChan
	<-doneChan
	<-doneChan

	assert.Len(t, registry.Sessions(), 30)

	registry.SessionClosed("client-0-0")
	registry.SessionClosed("unknown")
	sessions := registry.Sessions()
	assert.Len(t, sessions, 29)
	assert.Equal(t, "client-0-1", sessions[0].ClientID)
}

func TestCountByState(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	registry.AddPending("a")
	registry.AddPending("b")
	registry.MarkInstalled("b", "esp32")
	registry.MarkInstalled("c", "m5stack")

	assert.Equal(t, map[DeviceState]int{StatePending: 1, StateInstalled: 2}, registry.CountByState())
}
