// Package eventbus is the event-driven substrate shared by every replication engine:
// typed per-component mailboxes, one-shot timers, and a crypto worker pool. Components
// built on it are single-threaded cooperative state machines that communicate only
// through these handles, never through shared mutable state (spec.md §5).
package eventbus

// Sender is a handle that enqueues an event of type E into some component's mailbox.
// Components never share a mailbox directly; they only ever hold a Sender to another
// component's inbound queue.
type Sender[E any] interface {
	Emit(e E)
}

// Mailbox is a single component's inbound event queue. Events are drained to
// quiescence, in arrival order, before the component looks at its queue again.
type Mailbox[E any] struct {
	ch chan E
}

// NewMailbox creates a mailbox with the given buffer capacity. A bounded buffer means
// Emit from a crypto worker or a peer's net handle never blocks the submitter for long;
// callers size it to the concurrency they expect (e.g. NUM_CONCURRENT_PRE_PREPARE-sized
// plus slack).
func NewMailbox[E any](capacity int) *Mailbox[E] {
	return &Mailbox[E]{ch: make(chan E, capacity)}
}

// Emit enqueues e. It implements Sender.
func (m *Mailbox[E]) Emit(e E) {
	m.ch <- e
}

// Sender returns a handle other components can use to enqueue into this mailbox
// without seeing its internals.
func (m *Mailbox[E]) Sender() Sender[E] {
	return m
}

// C exposes the receive-only channel for use in a component's select loop alongside
// timers and other mailboxes.
func (m *Mailbox[E]) C() <-chan E {
	return m.ch
}

// funcSender adapts a plain function to the Sender interface, letting tests and
// adapters (e.g. a causal-net wrapper re-emitting into a processor's mailbox under a
// different event type) build a Sender without a dedicated struct.
type funcSender[E any] func(E)

func (f funcSender[E]) Emit(e E) { f(e) }

// SenderFunc builds a Sender from a plain function.
func SenderFunc[E any](f func(E)) Sender[E] {
	return funcSender[E](f)
}
