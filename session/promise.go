package session

import (
	"context"
	"sync"

	"github.com/yinfei8/thinserve/proto"
)

// RemoteError is the local observation of a rejected outbound call: the
// remote side's error payload, still lazily wrapped so the caller can
// ParseType/ApplyStruct it like any other received value.
type RemoteError struct {
	Payload *proto.LazyParser
}

func (e *RemoteError) Error() string {
	return "remote error at " + e.Payload.Path()
}

// Promise is a resolvable-once deferred value with separate success and
// failure channels, and an observable "already resolved" bit. It backs
// both outbound-call results and (indirectly) the session's dispatch of
// application handler results.
type Promise struct {
	mu       sync.Mutex
	done     chan struct{}
	value    *proto.LazyParser
	err      error
	resolved bool
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) resolve(v *proto.LazyParser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.value = v
	p.resolved = true
	close(p.done)
}

func (p *Promise) reject(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.err = err
	p.resolved = true
	close(p.done)
}

// Resolved reports whether the promise has already settled, without
// blocking.
func (p *Promise) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

// Wait blocks until the promise settles or ctx is cancelled, returning
// either the data LazyParser or the error (a *RemoteError if the peer
// rejected the call, ctx.Err() on cancellation).
func (p *Promise) Wait(ctx context.Context) (*proto.LazyParser, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
