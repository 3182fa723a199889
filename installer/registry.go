package installer

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ilievs/edgesim/core"
	"github.com/ilievs/edgesim/mqtt"
)

// DeviceState is where a device is in the installation flow, as seen by the backend.
type DeviceState string

const (
	// StatePending means an install request was published but not yet acknowledged.
	StatePending DeviceState = "pending"
	// StateInstalled means the device acknowledged its sys_id.
	StateInstalled DeviceState = "installed"
	// StateDeleted is only reported to state change subscribers.
	StateDeleted DeviceState = "deleted"
)

const stateChannelBuffer = 16

// Device is the backend's record of an installed or pending device.
type Device struct {
	SysID       core.Identity `json:"sys_id"`
	Device      string        `json:"device,omitempty"`
	State       DeviceState   `json:"state"`
	RequestedAt time.Time     `json:"requested_at"`
	InstalledAt time.Time     `json:"installed_at"`
	LastReading *core.Reading `json:"last_reading,omitempty"`
	LastSeen    time.Time     `json:"last_seen"`
	Readings    int           `json:"readings"`
}

// Registry keeps devices and broker sessions. It is safe for concurrent use.
type Registry struct {
	devicesById  map[core.Identity]Device
	sessionsById map[string]mqtt.Session
	devicesMutex sync.RWMutex

	subscribersMutex    sync.RWMutex
	stateChangeChannels []chan Device

	log *slog.Logger
	now func() time.Time
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		devicesById:  make(map[core.Identity]Device),
		sessionsById: make(map[string]mqtt.Session),
		log:          logger.With("component", "registry"),
		now:          time.Now,
	}
}

// AddPending records an outstanding install request for id. A device that
// is already known keeps its record.
func (r *Registry) AddPending(id core.Identity) (Device, bool) {
	r.devicesMutex.Lock()
	if d, ok := r.devicesById[id]; ok {
		r.devicesMutex.Unlock()
		return d, false
	}
	d := Device{SysID: id, State: StatePending, RequestedAt: r.now()}
	r.devicesById[id] = d
	r.devicesMutex.Unlock()

	r.notify(d)
	return d, true
}

// MarkInstalled records an acknowledgement. Acknowledgements for ids the
// backend never requested are accepted as well, so devices installed by
// another backend instance still show up.
func (r *Registry) MarkInstalled(id core.Identity, device string) Device {
	r.devicesMutex.Lock()
	now := r.now()
	d, ok := r.devicesById[id]
	if !ok {
		d = Device{SysID: id, RequestedAt: now}
	}
	d.State = StateInstalled
	d.Device = device
	d.InstalledAt = now
	d.LastSeen = now
	r.devicesById[id] = d
	r.devicesMutex.Unlock()

	r.notify(d)
	return d
}

// RecordReading stores the latest reading of an installed device.
func (r *Registry) RecordReading(id core.Identity, reading core.Reading) error {
	r.devicesMutex.Lock()
	defer r.devicesMutex.Unlock()

	d, ok := r.devicesById[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	d.LastReading = &reading
	d.LastSeen = r.now()
	d.Readings++
	r.devicesById[id] = d
	return nil
}

// Remove forgets id and reports whether it was known.
func (r *Registry) Remove(id core.Identity) (Device, bool) {
	r.devicesMutex.Lock()
	d, ok := r.devicesById[id]
	delete(r.devicesById, id)
	r.devicesMutex.Unlock()

	if ok {
		d.State = StateDeleted
		r.notify(d)
	}
	return d, ok
}

func (r *Registry) Get(id core.Identity) (Device, bool) {
	r.devicesMutex.RLock()
	defer r.devicesMutex.RUnlock()
	d, ok := r.devicesById[id]
	return d, ok
}

// ListDevices returns every device ordered by sys_id.
func (r *Registry) ListDevices() []Device {
	r.devicesMutex.RLock()
	devices := make([]Device, 0, len(r.devicesById))
	for _, d := range r.devicesById {
		devices = append(devices, d)
	}
	r.devicesMutex.RUnlock()

	slices.SortFunc(devices, func(a, b Device) int {
		return cmp.Compare(a.SysID, b.SysID)
	})
	return devices
}

// CountByState returns how many devices are in each state.
func (r *Registry) CountByState() map[DeviceState]int {
	r.devicesMutex.RLock()
	defer r.devicesMutex.RUnlock()
	counts := map[DeviceState]int{StatePending: 0, StateInstalled: 0}
	for _, d := range r.devicesById {
		counts[d.State]++
	}
	return counts
}

// SessionOpened implements mqtt.SessionTracker.
func (r *Registry) SessionOpened(s mqtt.Session) {
	r.devicesMutex.Lock()
	defer r.devicesMutex.Unlock()
	r.sessionsById[s.ClientID] = s
}

// SessionClosed implements mqtt.SessionTracker.
func (r *Registry) SessionClosed(clientID string) {
	r.devicesMutex.Lock()
	defer r.devicesMutex.Unlock()
	delete(r.sessionsById, clientID)
}

// Sessions returns the connected broker clients ordered by client id.
func (r *Registry) Sessions() []mqtt.Session {
	r.devicesMutex.RLock()
	sessions := make([]mqtt.Session, 0, len(r.sessionsById))
	for _, s := range r.sessionsById {
		sessions = append(sessions, s)
	}
	r.devicesMutex.RUnlock()

	slices.SortFunc(sessions, func(a, b mqtt.Session) int {
		return cmp.Compare(a.ClientID, b.ClientID)
	})
	return sessions
}

// SubscribeToStateChanges returns a channel receiving every device whose
// state changed. Notifications to a full channel are dropped.
func (r *Registry) SubscribeToStateChanges() <-chan Device {
	r.subscribersMutex.Lock()
	defer r.subscribersMutex.Unlock()
	newStateChangeChan := make(chan Device, stateChannelBuffer)
	r.stateChangeChannels = append(r.stateChangeChannels, newStateChangeChan)
	return newStateChangeChan
}

func (r *Registry) notify(d Device) {
	r.subscribersMutex.RLock()
	defer r.subscribersMutex.RUnlock()
	for _, ch := range r.stateChangeChannels {
		select {
		case ch <- d:
		default:
			r.log.Debug("state change subscriber is full, dropping notification", "sys_id", d.SysID)
		}
	}
}
