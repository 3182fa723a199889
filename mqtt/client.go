package mqtt

import (
	"context"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/ilievs/edgesim/core"
)

// InlineClient is a core.Bus backed by the broker's inline client. The
// installer backend uses it to talk to devices without a network hop.
type InlineClient struct {
	broker *MochiBroker
}

func NewInlineClient(broker *MochiBroker) *InlineClient {
	return &InlineClient{broker}
}

func (m *InlineClient) Subscribe(ctx context.Context, topic string, qos byte, handler core.Handler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.broker.Subscribe(topic, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		handler(pk.TopicName, append([]byte(nil), pk.Payload...))
	})
}

func (m *InlineClient) Unsubscribe(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.broker.Unsubscribe(topic)
}

// Publish sends a non-retained message. Protocol messages are events, so a
// late subscriber must not see an old install request or ack.
func (m *InlineClient) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.broker.server.Publish(topic, payload, false, qos)
}
