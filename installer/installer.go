// Package installer is the backend side of the registration protocol. It
// publishes install and delete requests, follows acknowledgements and
// readings, and keeps a registry of the devices it has seen.
package installer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/core"
)

// Installer drives device installation over a core.Bus.
type Installer struct {
	bus      core.Bus
	registry *Registry
	metrics  *Metrics
	cfg      config.InstallerConfig
	qos      byte
	log      *slog.Logger
	newID    func() core.Identity
}

func New(bus core.Bus, registry *Registry, metrics *Metrics, cfg config.InstallerConfig, qos byte, logger *slog.Logger) *Installer {
	return &Installer{
		bus:      bus,
		registry: registry,
		metrics:  metrics,
		cfg:      cfg,
		qos:      qos,
		log:      logger.With("component", "installer", "namespace", cfg.Namespace),
		newID:    func() core.Identity { return core.Identity(uuid.NewString()) },
	}
}

// Registry returns the device registry the installer maintains.
func (i *Installer) Registry() *Registry {
	return i.registry
}

// Start subscribes to the acknowledgements of every device in the namespace
// and to the data topics of every configured label.
func (i *Installer) Start(ctx context.Context) error {
	acks := core.AllInstallAcks(i.cfg.Namespace)
	if err := i.bus.Subscribe(ctx, acks, i.qos, i.handleAck); err != nil {
		return fmt.Errorf("subscribing to %s: %w", acks, err)
	}
	for _, label := range i.cfg.DataLabels {
		topic := core.AllData(i.cfg.Namespace, label)
		if err := i.bus.Subscribe(ctx, topic, i.qos, i.handleReading); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	i.log.Info("installer started", "labels", i.cfg.DataLabels)
	return nil
}

// RequestInstall publishes an install request for id, or for a fresh UUID
// when id is empty. Whichever unregistered device handles it first takes
// the identity.
func (i *Installer) RequestInstall(ctx context.Context, id core.Identity) (Device, error) {
	if id == "" {
		id = i.newID()
	}
	if !core.ValidIdentity(id) {
		return Device{}, fmt.Errorf("%w: %q", ErrInvalidSysID, id)
	}

	payload, err := core.EncodeInstallRequest(id)
	if err != nil {
		return Device{}, err
	}
	if err := i.bus.Publish(ctx, core.InstallTopic, payload, i.qos); err != nil {
		return Device{}, fmt.Errorf("publishing install request: %w", err)
	}
	i.metrics.installRequests.Inc()

	d, _ := i.registry.AddPending(id)
	i.log.Info("install request published", "sys_id", id)
	return d, nil
}

// RequestDelete publishes a delete request to id and forgets it. The request
// is sent even when the registry does not know id; known reports whether it did.
func (i *Installer) RequestDelete(ctx context.Context, id core.Identity) (d Device, known bool, err error) {
	if !core.ValidIdentity(id) {
		return Device{}, false, fmt.Errorf("%w: %q", ErrInvalidSysID, id)
	}

	topics := core.Topics{Namespace: i.cfg.Namespace}
	if err := i.bus.Publish(ctx, topics.Delete(id), []byte("{}"), i.qos); err != nil {
		return Device{}, false, fmt.Errorf("publishing delete request: %w", err)
	}
	i.metrics.deleteRequests.Inc()

	d, known = i.registry.Remove(id)
	if !known {
		d = Device{SysID: id, State: StateDeleted}
	}
	i.log.Info("delete request published", "sys_id", id, "known", known)
	return d, known, nil
}

func (i *Installer) handleAck(topic string, payload []byte) {
	ns, id, _, ok := core.ParseDeviceTopic(topic)
	if !ok || ns != i.cfg.Namespace {
		i.drop("bad_topic", topic, nil)
		return
	}
	ack, err := core.DecodeInstallAck(payload)
	if err != nil {
		i.drop("malformed_ack", topic, err)
		return
	}
	if !ack.Success {
		i.metrics.acks.WithLabelValues("failure").Inc()
		i.log.Warn("device reported failed installation", "sys_id", id, "message", ack.Message)
		return
	}
	if ack.SysID != "" && ack.SysID != id {
		i.log.Warn("ack sys_id does not match its topic, using the topic", "sys_id", id, "ack_sys_id", ack.SysID)
	}

	i.metrics.acks.WithLabelValues("success").Inc()
	i.registry.MarkInstalled(id, ack.Device)
	i.log.Info("device installed", "sys_id", id, "device", ack.Device)
}

func (i *Installer) handleReading(topic string, payload []byte) {
	ns, id, label, ok := core.ParseDeviceTopic(topic)
	if !ok || ns != i.cfg.Namespace {
		i.drop("bad_topic", topic, nil)
		return
	}
	reading, err := core.DecodeReading(payload)
	if err != nil {
		i.drop("malformed_reading", topic, err)
		return
	}
	if err := i.registry.RecordReading(id, reading); err != nil {
		i.drop("unknown_device", topic, err)
		return
	}
	i.metrics.readings.WithLabelValues(label).Inc()
	i.log.Debug("reading received", "sys_id", id, "value", reading.Value)
}

func (i *Installer) drop(reason, topic string, err error) {
	i.metrics.dropped.WithLabelValues(reason).Inc()
	i.log.Warn("dropping message", "reason", reason, "topic", topic, "error", err)
}
