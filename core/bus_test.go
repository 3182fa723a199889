package core

import (
	"context"
	"sync"
	"time"
)

type busCall struct {
	op      string
	topic   string
	payload []byte
	qos     byte
	at      time.Time
}

// recordingBus is an in-memory Bus that records every call in order.
type recordingBus struct {
	mu       sync.Mutex
	calls    []busCall
	handlers map[string]Handler
	failures map[string]error // keyed by op + " " + topic
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		handlers: make(map[string]Handler),
		failures: make(map[string]error),
	}
}

func (b *recordingBus) fail(op, topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op+" "+topic] = err
}

func (b *recordingBus) record(op, topic string, payload []byte, qos byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, busCall{op: op, topic: topic, payload: payload, qos: qos, at: time.Now()})
	return b.failures[op+" "+topic]
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string, qos byte, handler Handler) error {
	if err := b.record("subscribe", topic, nil, qos); err != nil {
		return err
	}
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	return ctx.Err()
}

func (b *recordingBus) Unsubscribe(ctx context.Context, topic string) error {
	if err := b.record("unsubscribe", topic, nil, 0); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.handlers, topic)
	b.mu.Unlock()
	return ctx.Err()
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := b.record("publish", topic, payload, qos); err != nil {
		return err
	}
	return ctx.Err()
}

// deliver hands a message to the handler subscribed on topic, if any.
func (b *recordingBus) deliver(topic string, payload []byte) bool {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if ok {
		h(topic, payload)
	}
	return ok
}

func (b *recordingBus) snapshot() []busCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busCall(nil), b.calls...)
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

func (b *recordingBus) published(topic string) []busCall {
	var out []busCall
	for _, c := range b.snapshot() {
		if c.op == "publish" && c.topic == topic {
			out = append(out, c)
		}
	}
	return out
}

func (b *recordingBus) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}
