package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DeletePolicy decides what a device does once its identity is deleted.
type DeletePolicy int

const (
	// DeleteRejoin drops the identity-scoped subscriptions and listens on
	// InstallTopic again, so the device can be reinstalled.
	DeleteRejoin DeletePolicy = iota
	// DeleteRetire only clears the identity. The device stops listening for
	// install requests until the process restarts.
	DeleteRetire
)

// ParseDeletePolicy accepts "rejoin" or "retire".
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch s {
	case "rejoin":
		return DeleteRejoin, nil
	case "retire":
		return DeleteRetire, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDeletePolicy, s)
	}
}

const (
	DefaultSettleDelay      = 500 * time.Millisecond
	DefaultOperationTimeout = 5 * time.Second
	stateChannelBuffer      = 8
)

// AgentConfig tunes one device agent.
type AgentConfig struct {
	Profile   Profile
	Namespace string
	QoS       byte

	// SettleDelay separates the data topic subscription from the install
	// acknowledgement so the subscription is active before the installer
	// reacts to the ack.
	SettleDelay time.Duration

	AfterDelete      DeletePolicy
	OperationTimeout time.Duration
}

// Status is a snapshot of an agent.
type Status struct {
	Device        string    `json:"device"`
	State         string    `json:"state"`
	Registered    bool      `json:"registered"`
	Identity      Identity  `json:"sys_id,omitempty"`
	Installing    bool      `json:"installing"`
	Incomplete    bool      `json:"incomplete"`
	Subscriptions []string  `json:"subscriptions"`
	LastReading   *Reading  `json:"last_reading,omitempty"`
	Queued        int       `json:"queued"`
	Since         time.Time `json:"since"`
}

// Agent owns the lifecycle of one simulated device and drives its
// registration protocol over a Bus.
//
// Inbound messages are queued by Deliver and handled one at a time, in
// arrival order, by Run.
type Agent struct {
	bus    Bus
	cfg    AgentConfig
	topics Topics
	log    *slog.Logger
	inbox  *inbox
	now    func() time.Time

	mu          sync.RWMutex
	state       Lifecycle
	since       time.Time
	installing  bool
	incomplete  bool
	lastReading *Reading
	subscribed  map[string]struct{}

	subscribersMutex sync.RWMutex
	stateChannels    []chan Lifecycle
}

// NewAgent returns an unregistered agent. Call Start, then Run.
func NewAgent(bus Bus, cfg AgentConfig, logger *slog.Logger) *Agent {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.QoS > 2 {
		cfg.QoS = 2
	}
	return &Agent{
		bus:        bus,
		cfg:        cfg,
		topics:     Topics{Namespace: cfg.Namespace, DataLabel: cfg.Profile.DataLabel},
		log:        logger.With("component", "agent", "device", cfg.Profile.Name),
		inbox:      newInbox(),
		now:        time.Now,
		since:      time.Now(),
		subscribed: make(map[string]struct{}),
	}
}

// Start subscribes to the shared install topic.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.subscribe(ctx, InstallTopic); err != nil {
		return fmt.Errorf("subscribing to %s: %w", InstallTopic, err)
	}
	a.log.Info("waiting for installation", "topic", InstallTopic)
	return nil
}

// Deliver queues an inbound message. It is the Handler given to the Bus.
func (a *Agent) Deliver(topic string, payload []byte) {
	a.inbox.push(message{topic: topic, payload: payload})
}

// Run handles queued messages until ctx ends. A message being handled when
// ctx ends is finished first; its bus operations are bounded only by the
// operation timeout.
func (a *Agent) Run(ctx context.Context) error {
	detached := context.WithoutCancel(ctx)
	for {
		for ctx.Err() == nil {
			m, ok := a.inbox.pop()
			if !ok {
				break
			}
			a.HandleMessage(detached, m.topic, m.payload)
		}

		select {
		case <-ctx.Done():
			if n := a.inbox.len(); n > 0 {
				a.log.Info("discarding queued messages on shutdown", "count", n)
			}
			return nil
		case <-a.inbox.ready:
		}
	}
}

// HandleMessage routes one inbound message by topic.
func (a *Agent) HandleMessage(ctx context.Context, topic string, payload []byte) {
	a.log.Debug("received message", "topic", topic, "payload", string(payload))

	switch {
	case topic == InstallTopic:
		_ = a.HandleInstall(ctx, payload)
	case IsDeleteTopic(topic):
		if !a.addressedToSelf(topic) {
			a.log.Info("ignoring delete for another sys_id", "topic", topic)
			return
		}
		a.HandleDelete(ctx)
	case a.isDataTopic(topic):
		_ = a.HandleData(payload)
	default:
		a.log.Warn("ignoring message on unexpected topic", "topic", topic)
	}
}

// HandleInstall processes an install request. Malformed requests, requests
// while registered and requests during a running install are dropped
// without side effects. Otherwise the identity is adopted and, in order:
// install is unsubscribed, the data topic subscribed, SettleDelay waited,
// the ack published and the deletion topic subscribed.
//
// Transport failures after the identity is adopted are logged and leave the
// registration marked incomplete; the identity is kept. If ctx ends during
// SettleDelay no ack is sent, but the deletion topic is still subscribed.
func (a *Agent) HandleInstall(ctx context.Context, payload []byte) error {
	req, err := DecodeInstallRequest(payload)
	if err != nil {
		a.log.Warn("dropping invalid installation request", "error", err)
		return err
	}

	a.mu.Lock()
	if a.installing {
		a.mu.Unlock()
		a.log.Info("installation already in progress, dropping request", "sys_id", req.SysID)
		return ErrInstallInProgress
	}
	next, err := a.state.Install(req.SysID)
	if err != nil {
		current, _ := a.state.Identity()
		a.mu.Unlock()
		a.log.Info("already installed, ignoring request", "sys_id", current, "requested", req.SysID)
		return err
	}
	a.setStateLocked(next)
	a.installing = true
	a.incomplete = false
	a.mu.Unlock()

	a.log.Info("taking new sys_id", "sys_id", req.SysID)
	a.notify(next)

	incomplete := a.install(ctx, req.SysID)

	a.mu.Lock()
	a.installing = false
	a.incomplete = incomplete
	a.mu.Unlock()

	if incomplete {
		a.log.Warn("installation finished with errors", "sys_id", req.SysID)
	} else {
		a.log.Info("installation complete", "sys_id", req.SysID)
	}
	return nil
}

// install runs the side effects of a registration and reports whether any
// step after the unsubscribe failed.
func (a *Agent) install(ctx context.Context, id Identity) (incomplete bool) {
	if err := a.unsubscribe(ctx, InstallTopic); err != nil {
		a.log.Error("error unsubscribing from install topic", "error", err)
	}

	dataTopic := a.topics.Data(id)
	if err := a.subscribe(ctx, dataTopic); err != nil {
		a.log.Error("error subscribing to data topic", "topic", dataTopic, "error", err)
		incomplete = true
	} else {
		a.log.Info("subscribed", "topic", dataTopic)
	}

	if err := a.settle(ctx); err != nil {
		// No ack, but the device must stay deletable.
		a.log.Error("installation interrupted before acknowledgement", "sys_id", id, "error", err)
		deleteTopic := a.topics.Delete(id)
		if err := a.subscribe(context.WithoutCancel(ctx), deleteTopic); err != nil {
			a.log.Error("error subscribing to delete topic", "topic", deleteTopic, "error", err)
		}
		return true
	}

	ack := InstallAck{
		Success: true,
		Message: fmt.Sprintf("Successfully installed with sys_id: %s", id),
		SysID:   id,
		Device:  a.cfg.Profile.Name,
	}
	if err := a.publish(ctx, a.topics.InstallAck(id), ack); err != nil {
		a.log.Error("error publishing installation response", "sys_id", id, "error", err)
		incomplete = true
	} else {
		a.log.Info("installation response published", "topic", a.topics.InstallAck(id))
	}

	deleteTopic := a.topics.Delete(id)
	if err := a.subscribe(ctx, deleteTopic); err != nil {
		a.log.Error("error subscribing to delete topic", "topic", deleteTopic, "error", err)
		incomplete = true
	} else {
		a.log.Info("subscribed", "topic", deleteTopic)
	}

	return incomplete
}

func (a *Agent) settle(ctx context.Context) error {
	if a.cfg.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(a.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleDelete clears the identity. It is idempotent. With DeleteRejoin the
// identity-scoped topics are dropped and InstallTopic is subscribed again.
func (a *Agent) HandleDelete(ctx context.Context) {
	a.mu.Lock()
	prev := a.state
	next := prev.Delete()
	if prev.IsRegistered() {
		a.setStateLocked(next)
	}
	a.incomplete = false
	a.lastReading = nil
	a.mu.Unlock()

	id, was := prev.Identity()
	if !was {
		a.log.Info("delete received while unregistered, nothing to do")
		return
	}
	a.log.Info("deleted sys_id", "sys_id", id)
	a.notify(next)

	if a.cfg.AfterDelete != DeleteRejoin {
		return
	}
	for _, topic := range []string{a.topics.Data(id), a.topics.Delete(id)} {
		if err := a.unsubscribe(ctx, topic); err != nil {
			a.log.Error("error unsubscribing", "topic", topic, "error", err)
		}
	}
	if err := a.subscribe(ctx, InstallTopic); err != nil {
		a.log.Error("error resubscribing to install topic", "error", err)
		return
	}
	a.log.Info("waiting for installation", "topic", InstallTopic)
}

// HandleData records a reading received on the device's data topic.
func (a *Agent) HandleData(payload []byte) error {
	a.mu.RLock()
	registered := a.state.IsRegistered()
	a.mu.RUnlock()
	if !registered {
		a.log.Debug("dropping reading received while unregistered")
		return ErrUnregistered
	}

	r, err := DecodeReading(payload)
	if err != nil {
		a.log.Warn("dropping invalid reading", "error", err)
		return err
	}

	a.mu.Lock()
	a.lastReading = &r
	a.mu.Unlock()

	a.log.Info("received reading", "value", r.Value, "timestamp", r.Timestamp, "from", r.Device)
	return nil
}

// PublishReading publishes value on the data topic and returns once the
// transport has confirmed delivery. It fails with ErrUnregistered without
// publishing when the device holds no identity.
func (a *Agent) PublishReading(ctx context.Context, value any) error {
	a.mu.RLock()
	id, ok := a.state.Identity()
	installing := a.installing
	a.mu.RUnlock()

	if !ok {
		return ErrUnregistered
	}
	if installing {
		return ErrInstallInProgress
	}

	topic := a.topics.Data(id)
	if err := a.publish(ctx, topic, NewReading(value, a.cfg.Profile.Name, a.now())); err != nil {
		return fmt.Errorf("publishing reading: %w", err)
	}
	a.log.Info("sensor data published", "topic", topic, "value", value)
	return nil
}

// Lifecycle returns the current lifecycle.
func (a *Agent) Lifecycle() Lifecycle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Status returns a snapshot for display.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	id, _ := a.state.Identity()
	subs := make([]string, 0, len(a.subscribed))
	for topic := range a.subscribed {
		subs = append(subs, topic)
	}
	slices.Sort(subs)

	var last *Reading
	if a.lastReading != nil {
		r := *a.lastReading
		last = &r
	}

	return Status{
		Device:        a.cfg.Profile.Name,
		State:         a.state.Phase().String(),
		Registered:    a.state.IsRegistered(),
		Identity:      id,
		Installing:    a.installing,
		Incomplete:    a.incomplete,
		Subscriptions: subs,
		LastReading:   last,
		Queued:        a.inbox.len(),
		Since:         a.since,
	}
}

// SubscribeToStateChanges returns a channel receiving every lifecycle
// transition. Slow readers miss transitions rather than stall the agent.
func (a *Agent) SubscribeToStateChanges() <-chan Lifecycle {
	a.subscribersMutex.Lock()
	defer a.subscribersMutex.Unlock()
	ch := make(chan Lifecycle, stateChannelBuffer)
	a.stateChannels = append(a.stateChannels, ch)
	return ch
}

func (a *Agent) notify(l Lifecycle) {
	a.subscribersMutex.RLock()
	defer a.subscribersMutex.RUnlock()
	for _, ch := range a.stateChannels {
		select {
		case ch <- l:
		default:
			a.log.Debug("state change subscriber is full, dropping notification", "state", l.String())
		}
	}
}

func (a *Agent) setStateLocked(l Lifecycle) {
	a.state = l
	a.since = a.now()
}

// addressedToSelf reports whether a deletion topic names the current
// identity. Topics naming no identity, or arriving while unregistered, pass.
func (a *Agent) addressedToSelf(topic string) bool {
	target, ok := DeleteTarget(topic)
	if !ok {
		return true
	}
	a.mu.RLock()
	current, registered := a.state.Identity()
	a.mu.RUnlock()
	return !registered || target == current
}

func (a *Agent) isDataTopic(topic string) bool {
	_, _, label, ok := ParseDeviceTopic(topic)
	return ok && label == a.topics.DataLabel
}

func (a *Agent) subscribe(ctx context.Context, topic string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.OperationTimeout)
	defer cancel()
	if err := a.bus.Subscribe(ctx, topic, a.cfg.QoS, a.Deliver); err != nil {
		return err
	}
	a.mu.Lock()
	a.subscribed[topic] = struct{}{}
	a.mu.Unlock()
	return nil
}

func (a *Agent) unsubscribe(ctx context.Context, topic string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.OperationTimeout)
	defer cancel()
	err := a.bus.Unsubscribe(ctx, topic)
	if err == nil {
		a.mu.Lock()
		delete(a.subscribed, topic)
		a.mu.Unlock()
	}
	return err
}

func (a *Agent) publish(ctx context.Context, topic string, v any) error {
	payload, err := encode(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.OperationTimeout)
	defer cancel()
	return a.bus.Publish(ctx, topic, payload, a.cfg.QoS)
}

// IsTransient reports whether err from PublishReading only reflects the
// current lifecycle rather than a transport problem.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnregistered) || errors.Is(err, ErrInstallInProgress)
}
