package core

import "sync"

type message struct {
	topic   string
	payload []byte
}

// inbox is an unbounded FIFO so transport callbacks never block on a busy agent.
type inbox struct {
	mu    sync.Mutex
	queue []message
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) push(m message) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) pop() (message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return message{}, false
	}
	m := b.queue[0]
	b.queue[0] = message{}
	b.queue = b.queue[1:]
	return m, true
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
