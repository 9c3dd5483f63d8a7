package actuate

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a depth-1 queue with overwrite semantics. Post never blocks
// and replaces any command still pending, so the consumer always sees the
// newest one.
type Mailbox struct {
	mu      sync.Mutex
	pending Command
	full    bool
	ready   chan struct{}

	posts atomic.Uint64
	drops atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Post stores cmd, replacing an unconsumed command.
func (m *Mailbox) Post(cmd Command) {
	m.mu.Lock()
	if m.full {
		m.drops.Add(1)
	}
	m.pending = cmd
	m.full = true
	m.mu.Unlock()
	m.posts.Add(1)

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after a Post. A receive from it does not consume the
// command.
func (m *Mailbox) Ready() <-chan struct{} { return m.ready }

// TryReceive removes and returns the pending command.
func (m *Mailbox) TryReceive() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return Command{}, false
	}
	m.full = false
	return m.pending, true
}

// Peek returns the pending command without removing it.
func (m *Mailbox) Peek() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, m.full
}

// MailboxStats counts posts and commands replaced before being consumed.
type MailboxStats struct {
	Posts uint64 `json:"posts"`
	Drops uint64 `json:"drops"`
}

// Stats returns the counters.
func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{Posts: m.posts.Load(), Drops: m.drops.Load()}
}
