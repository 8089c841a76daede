// Package shuttle implements the rendezvous between an unbounded, ordered
// producer of outbound messages and a single long-poll consumer.
package shuttle

import "sync"

// Message is an opaque outbound payload (a ["call", ...] or ["reply",
// ...] wire message once encoded); the shuttle only cares about FIFO
// order, not content.
type Message = any

// waiter is the receiving side of one gather call.
type waiter chan []Message

// state tags which of the three shuttle states is current.
type state int

const (
	stateEmpty state = iota
	stateQueued
	stateBlocked
)

// Shuttle holds either a queue of pending outbound messages or a single
// blocked waiter, never both: finite state {Empty | Queued(q) |
// Blocked(w)}. Safe for concurrent use.
type Shuttle struct {
	mu    sync.Mutex
	st    state
	queue []Message
	w     waiter
}

// New returns a Shuttle in the Empty state.
func New() *Shuttle {
	return &Shuttle{st: stateEmpty}
}

// Send enqueues msg, or immediately hands it to a blocked waiter if one is
// present. Messages are delivered to the next Gather in the order Send was
// called.
func (s *Shuttle) Send(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.st {
	case stateEmpty:
		s.queue = []Message{msg}
		s.st = stateQueued
	case stateQueued:
		s.queue = append(s.queue, msg)
	case stateBlocked:
		w := s.w
		s.w = nil
		s.st = stateEmpty
		w <- []Message{msg}
		close(w)
	}
}

// Gather returns a channel that receives exactly one batch of messages:
// immediately, if any are queued; otherwise once Send is next called. If
// another Gather is already blocked, that older channel immediately
// receives an empty batch and the new one becomes the blocked waiter (the
// "bump" rule: the newer poll supersedes the older one).
func (s *Shuttle) Gather() <-chan []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(waiter, 1)

	switch s.st {
	case stateEmpty:
		s.w = out
		s.st = stateBlocked
	case stateQueued:
		q := s.queue
		s.queue = nil
		s.st = stateEmpty
		out <- q
		close(out)
	case stateBlocked:
		old := s.w
		s.w = out
		old <- []Message{}
		close(old)
	}

	return out
}
