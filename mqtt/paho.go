package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/core"
)

// PahoClient is a core.Bus over an MQTT v5 connection. The connection is
// re-established automatically until Close is called.
type PahoClient struct {
	cm     *autopaho.ConnectionManager
	cfg    config.MQTTConfig
	log    *slog.Logger
	subs   *subscriptions
	cancel context.CancelFunc
}

// DialV5 connects to cfg.URL and waits for the first connection until ctx
// ends.
func DialV5(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (*PahoClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing url %q: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &PahoClient{
		cfg:  cfg,
		log:  logger.With("component", "mqtt", "protocol", config.ProtocolV5, "client_id", cfg.ClientID),
		subs: newSubscriptions(),
	}

	cliCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{u},
		KeepAlive:  uint16(cfg.KeepAlive),
		// A persistent session keeps subscriptions and queued QoS 1/2
		// messages across reconnects.
		CleanStartOnInitialConnection: cfg.CleanStart,
		SessionExpiryInterval:         uint32(cfg.SessionExpiry),
		ConnectTimeout:                cfg.ConnectTimeout,
		ConnectUsername:               cfg.Username,
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError: func(err error) {
			c.log.Warn("error whilst attempting connection", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.onPublishReceived,
			},
			OnClientError: func(err error) { c.log.Error("client error", "error", err) },
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					c.log.Warn("server requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					c.log.Warn("server requested disconnect", "reason_code", d.ReasonCode)
				}
			},
		},
	}
	if cfg.Password != "" {
		cliCfg.ConnectPassword = []byte(cfg.Password)
	}

	// The connection outlives ctx; it is stopped by Close.
	connCtx, cancel := context.WithCancel(context.Background())
	cm, err := autopaho.NewConnection(connCtx, cliCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.cm = cm
	c.cancel = cancel

	if err := cm.AwaitConnection(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

func (c *PahoClient) onConnectionUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	c.log.Info("mqtt connection up", "session_present", connAck.SessionPresent)
	if !c.cfg.ResubscribeOnReconnect {
		return
	}

	for _, sub := range c.subs.all() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OperationTimeout)
		_, err := cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: sub.topic, QoS: sub.qos}},
		})
		cancel()
		if err != nil {
			c.log.Error("failed to restore subscription", "topic", sub.topic, "error", err)
			continue
		}
		c.log.Info("subscription restored", "topic", sub.topic)
	}
}

func (c *PahoClient) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if n := c.subs.dispatch(pr.Packet.Topic, pr.Packet.Payload); n == 0 {
		c.log.Debug("no handler for message", "topic", pr.Packet.Topic)
	}
	return true, nil
}

// Subscribe subscribes to topic and returns once the broker has granted it.
func (c *PahoClient) Subscribe(ctx context.Context, topic string, qos byte, handler core.Handler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}

	// Tracked first so retained messages arriving with the SUBACK are routed.
	c.subs.add(topic, qos, handler)

	suback, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	})
	if err != nil {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	if suback != nil {
		for _, code := range suback.Reasons {
			if code >= 0x80 {
				c.subs.remove(topic)
				return fmt.Errorf("%w: %s: reason code 0x%02x", ErrSubscribeFailed, topic, code)
			}
		}
	}
	return nil
}

func (c *PahoClient) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	c.subs.remove(topic)

	if _, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

// Publish sends a non-retained message and, for QoS 1 and 2, waits for the
// broker to acknowledge it.
func (c *PahoClient) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := validate(topic, qos); err != nil {
		return err
	}

	resp, err := c.cm.Publish(ctx, &paho.Publish{
		QoS:     qos,
		Topic:   topic,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("%w: %s: reason code 0x%02x", ErrPublishFailed, topic, resp.ReasonCode)
	}
	return nil
}

// Close disconnects cleanly and stops reconnecting.
func (c *PahoClient) Close(ctx context.Context) error {
	defer c.cancel()
	if err := c.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	c.log.Info("mqtt connection closed")
	return nil
}
