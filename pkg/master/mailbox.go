package master

import "sync"

// mailbox is an unbounded queue drained by the selector loop. Posting never
// blocks, so coordination callbacks may post from any goroutine, including
// the loop itself.
type mailbox struct {
	mu     sync.Mutex
	queue  []message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.queue
	m.queue = nil
	return msgs
}
