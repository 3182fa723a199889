package mqtt

import (
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/core"
)

// MochiBroker runs the embedded broker devices connect to and manages the
// inline subscriptions of the backend.
type MochiBroker struct {
	server    *mochi.Server
	cfg       config.BrokerConfig
	namespace string
	log       *slog.Logger

	subscriberIdCounter int
	subscriptionIds     map[string]int
	subscriberMutex     sync.Mutex
}

// NewServer creates a mochi server with the inline client enabled.
func NewServer(logger *slog.Logger) *mochi.Server {
	return mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger.With("component", "broker"),
	})
}

// NewMochiBroker wraps server. Device users configured in cfg may use the
// install topic and everything under namespace.
func NewMochiBroker(server *mochi.Server, cfg config.BrokerConfig, namespace string, logger *slog.Logger) *MochiBroker {
	return &MochiBroker{
		server:              server,
		cfg:                 cfg,
		namespace:           namespace,
		log:                 logger.With("component", "broker"),
		subscriberIdCounter: 1,
		subscriptionIds:     make(map[string]int),
	}
}

// Start installs the auth hook followed by hooks (configured with the
// matching entry of hookConfigs), adds the TCP listener when an address is
// configured and starts serving.
func (m *MochiBroker) Start(hooks []mochi.Hook, hookConfigs []any) error {
	if len(hooks) != len(hookConfigs) {
		return fmt.Errorf("got %d hooks but %d hook configs", len(hooks), len(hookConfigs))
	}

	if ledger := m.ledger(); ledger != nil {
		if err := m.server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
			return fmt.Errorf("adding auth hook: %w", err)
		}
	} else {
		m.log.Warn("no broker users configured, allowing all connections")
		if err := m.server.AddHook(new(auth.AllowHook), nil); err != nil {
			return fmt.Errorf("adding allow hook: %w", err)
		}
	}

	for i, hook := range hooks {
		if err := m.server.AddHook(hook, hookConfigs[i]); err != nil {
			return fmt.Errorf("adding hook %s: %w", hook.ID(), err)
		}
	}

	if m.cfg.Address != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: m.cfg.Address})
		if err := m.server.AddListener(tcp); err != nil {
			return fmt.Errorf("adding listener on %s: %w", m.cfg.Address, err)
		}
	}

	if err := m.server.Serve(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	m.log.Info("broker started", "address", m.cfg.Address)
	return nil
}

// ledger builds the auth rules, or returns nil when the broker is open to all.
func (m *MochiBroker) ledger() *auth.Ledger {
	if len(m.cfg.Users) == 0 && !m.cfg.AllowAnonymousLocal {
		return nil
	}

	ledger := &auth.Ledger{}
	if m.cfg.AllowAnonymousLocal {
		// local superuser allow all
		ledger.Auth = append(ledger.Auth, auth.AuthRule{Remote: "127.0.0.1:*", Allow: true})
		ledger.ACL = append(ledger.ACL, auth.ACLRule{Remote: "127.0.0.1:*"})
	}

	deviceFilters := auth.Filters{
		auth.RString(m.namespace + "/#"): auth.ReadWrite,
		auth.RString(core.InstallTopic):  auth.ReadOnly,
	}
	for _, u := range m.cfg.Users {
		ledger.Auth = append(ledger.Auth, auth.AuthRule{
			Username: auth.RString(u.Username),
			Password: auth.RString(u.Password),
			Allow:    true,
		})
		ledger.ACL = append(ledger.ACL, auth.ACLRule{
			Username: auth.RString(u.Username),
			Filters:  deviceFilters,
		})
	}

	// Otherwise, no clients have permissions outside their namespace
	ledger.ACL = append(ledger.ACL, auth.ACLRule{
		Filters: auth.Filters{"#": auth.Deny},
	})
	return ledger
}

// Subscribe adds an inline subscription on topicFilter. Subscribing the same
// filter again replaces its callback.
func (m *MochiBroker) Subscribe(topicFilter string,
	callbackFn func(cl *mochi.Client, sub packets.Subscription, pk packets.Packet)) error {

	m.subscriberMutex.Lock()
	defer m.subscriberMutex.Unlock()

	id, ok := m.subscriptionIds[topicFilter]
	if !ok {
		id = m.subscriberIdCounter
	}
	if err := m.server.Subscribe(topicFilter, id, callbackFn); err != nil {
		return err
	}
	if !ok {
		m.subscriptionIds[topicFilter] = id
		m.subscriberIdCounter += 1
	}
	return nil
}

// Unsubscribe removes the inline subscription on topicFilter.
func (m *MochiBroker) Unsubscribe(topicFilter string) error {
	m.subscriberMutex.Lock()
	defer m.subscriberMutex.Unlock()

	id, ok := m.subscriptionIds[topicFilter]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topicFilter)
	}
	if err := m.server.Unsubscribe(topicFilter, id); err != nil {
		return err
	}
	delete(m.subscriptionIds, topicFilter)
	return nil
}

// Close stops the listeners and disconnects every client.
func (m *MochiBroker) Close() error {
	if err := m.server.Close(); err != nil {
		return fmt.Errorf("closing broker: %w", err)
	}
	m.log.Info("broker stopped")
	return nil
}
