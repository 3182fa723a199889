package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/core"
)

const (
	defaultRetryInterval     = time.Second
	defaultMaxReconnect      = 30 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	subscribeFailure         = 0x80
)

// LegacyClient is a core.Bus over an MQTT 3.1.1 connection, for brokers and
// firmware that do not speak v5.
type LegacyClient struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	log    *slog.Logger
	subs   *subscriptions
}

// DialV311 connects to cfg.URL and waits for the first connection until ctx
// ends.
func DialV311(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (*LegacyClient, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	c := &LegacyClient{
		cfg:  cfg,
		log:  logger.With("component", "mqtt", "protocol", config.ProtocolV311, "client_id", cfg.ClientID),
		subs: newSubscriptions(),
	}
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.log.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := wait(ctx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// buildClientOptions maps the shared MQTT settings onto paho options.
func buildClientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing url %q: %w", ErrConnectionFailed, cfg.URL, err)
	}
	switch u.Scheme {
	case "mqtt", "":
		u.Scheme = "tcp"
	case "mqtts":
		u.Scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(u.String())
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(cfg.CleanStart)
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(defaultRetryInterval)
	opts.SetMaxReconnectInterval(defaultMaxReconnect)

	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	return opts, nil
}

func (c *LegacyClient) handleConnect() {
	c.log.Info("mqtt connection up")
	if !c.cfg.ResubscribeOnReconnect {
		return
	}
	for _, sub := range c.subs.all() {
		token := c.client.Subscribe(sub.topic, sub.qos, messageHandler(sub.handler))
		if !token.WaitTimeout(c.cfg.OperationTimeout) || token.Error() != nil {
			c.log.Error("failed to restore subscription", "topic", sub.topic, "error", token.Error())
		}
	}
}

func messageHandler(h core.Handler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, m pahomqtt.Message) {
		h(m.Topic(), m.Payload())
	}
}

// wait blocks until the token completes or ctx ends.
func wait(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *LegacyClient) Subscribe(ctx context.Context, topic string, qos byte, handler core.Handler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}

	c.subs.add(topic, qos, handler)
	token := c.client.Subscribe(topic, qos, messageHandler(handler))
	if err := wait(ctx, token); err != nil {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, ok := st.Result()[topic]; ok && code == subscribeFailure {
			c.subs.remove(topic)
			return fmt.Errorf("%w: %s: refused by broker", ErrSubscribeFailed, topic)
		}
	}
	return nil
}

func (c *LegacyClient) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	c.subs.remove(topic)
	if err := wait(ctx, c.client.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

func (c *LegacyClient) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if err := wait(ctx, c.client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Close disconnects after letting in-flight work drain briefly.
func (c *LegacyClient) Close(_ context.Context) error {
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.log.Info("mqtt connection closed")
	return nil
}
