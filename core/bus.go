package core

import "context"

// Handler receives messages delivered on a subscribed topic.
// It runs on the transport's delivery goroutine and must not block.
type Handler func(topic string, payload []byte)

// Bus is the publish/subscribe transport a device drives. Each call returns
// once the broker has acknowledged it at the requested QoS, or ctx ends.
// Implementations must be safe for concurrent use.
type Bus interface {
	Subscribe(ctx context.Context, topic string, qos byte, handler Handler) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
}
