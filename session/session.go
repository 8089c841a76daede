// Package session implements the per-session call/reply state machine:
// dispatching inbound calls to referenceable objects, routing inbound
// replies to pending outbound calls, assigning call identifiers, and
// surfacing remote errors.
package session

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/yinfei8/thinserve/proto"
	"github.com/yinfei8/thinserve/referenceable"
	"github.com/yinfei8/thinserve/shuttle"
)

var (
	callSignature = proto.Signature{
		Params: []proto.Param{{Name: "id"}, {Name: "target"}, {Name: "method"}},
	}
	replySignature = proto.Signature{
		Params: []proto.Param{{Name: "id"}, {Name: "result"}},
	}
)

// Logger receives diagnostics for failures coerced into InternalError.
type Logger func(format string, args ...any)

// Session holds a root object reference, a monotonically increasing
// call-id counter, the table of pending outbound calls awaiting a reply,
// and a Shuttle coupling outbound messages with long-poll gathers.
type Session struct {
	mu       sync.Mutex
	root     any
	registry *referenceable.Registry
	nextID   int
	pending  map[int]*Promise
	shuttle  *shuttle.Shuttle
	log      Logger
	closed   bool
}

// Option configures a Session at construction.
type Option func(*Session)

// WithRegistry overrides the referenceable registry consulted for target
// resolution; the default is referenceable.Default().
func WithRegistry(r *referenceable.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithLogger installs a diagnostic sink for coerced internal errors; the
// default discards them.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.log = l }
}

// New creates a Session over rootobj, which must already be registered as
// Referenceable. This is an invariant the application is responsible for
// (a misregistered root is a programming error, not a protocol error), so
// New panics rather than returning an error.
func New(rootobj any, opts ...Option) *Session {
	s := &Session{
		root:     rootobj,
		registry: referenceable.Default(),
		pending:  make(map[int]*Promise),
		shuttle:  shuttle.New(),
		log:      func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.registry.Check(rootobj) {
		panic("session: root object must be registered as Referenceable")
	}
	return s
}

// GatherOutgoingMessages returns the channel the session's Shuttle will
// deliver the next batch of outbound messages on (immediately, if any are
// already queued). Per the bump rule, a previous gather that is still
// pending immediately receives an empty batch, and the returned channel
// waits in its place.
func (s *Session) GatherOutgoingMessages() <-chan []shuttle.Message {
	return s.shuttle.Gather()
}

// ReceiveMessage decodes and dispatches one inbound call or reply. A
// malformed envelope (the outer ["call"|"reply", {...}] shape) surfaces
// as the returned error and does not disturb the pending-call table;
// errors raised while invoking an application method are instead captured
// and delivered as the call's own ["reply", {"result": ["error", ...]}],
// never returned here.
func (s *Session) ReceiveMessage(lp *proto.LazyParser) error {
	handlers := map[string]proto.StructFunc{
		"call": proto.NewStructFunc(callSignature, func(args map[string]*proto.LazyParser) (any, error) {
			return nil, s.receiveCall(args)
		}),
		"reply": proto.NewStructFunc(replySignature, func(args map[string]*proto.LazyParser) (any, error) {
			return nil, s.receiveReply(args)
		}),
	}
	_, err := lp.ApplyVariantStruct(handlers)
	return err
}

func (s *Session) receiveCall(args map[string]*proto.LazyParser) (err error) {
	idv, err := args["id"].ParseType(proto.NumberCategory)
	if err != nil {
		return err
	}
	id := int(idv.(float64))

	targetRaw, err := args["target"].Unwrap()
	if err != nil {
		return err
	}

	obj, err := s.resolveTarget(targetRaw)
	if err != nil {
		return err
	}

	methods, ok := s.registry.BoundMethods(obj)
	if !ok {
		s.log("session: refusing call %d: target is not Referenceable", id)
		return proto.NewInternalError()
	}

	result, callErr := s.invokeMethod(args["method"], methods)
	s.sendReply(id, replyResult(result, callErr, s.log))
	return nil
}

// invokeMethod runs the method-variant decode and dispatch under recover,
// so an application handler panic is coerced the same way a returned
// non-ProtocolError is, instead of crashing the session loop.
func (s *Session) invokeMethod(method *proto.LazyParser, methods map[string]proto.StructFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("session: panic in handler: %v", r)
		}
	}()
	return method.ApplyVariantStruct(methods)
}

func replyResult(result any, callErr error, log Logger) any {
	if callErr == nil {
		return []any{"data", result}
	}
	pe, ok := callErr.(*proto.ProtocolError)
	if !ok {
		log("session: non-protocol handler failure: %v", xerrors.Errorf("handler: %w", callErr))
		pe = proto.NewInternalError()
	}
	return []any{"error", pe.AsObject()}
}

func (s *Session) receiveReply(args map[string]*proto.LazyParser) error {
	idv, err := args["id"].ParseType(proto.NumberCategory)
	if err != nil {
		return err
	}
	id := int(idv.(float64))

	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return proto.NewInvalidParameter("id")
	}

	_, err = args["result"].ApplyVariant(map[string]func(*proto.LazyParser) (any, error){
		"data": func(body *proto.LazyParser) (any, error) {
			p.resolve(body)
			return nil, nil
		},
		"error": func(body *proto.LazyParser) (any, error) {
			p.reject(&RemoteError{Payload: body})
			return nil, nil
		},
	})
	return err
}

// SendCall assigns the next call-id from the session's monotone counter,
// enqueues a ["call", ...] message via the Shuttle, and returns a promise
// that settles when a matching reply arrives.
func (s *Session) SendCall(target any, method string, params any) *Promise {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	p := newPromise()
	s.pending[id] = p
	s.mu.Unlock()

	s.shuttle.Send([]any{
		"call",
		map[string]any{
			"id":     id,
			"target": target,
			"method": []any{method, params},
		},
	})
	return p
}

func (s *Session) sendReply(id int, result any) {
	s.shuttle.Send([]any{
		"reply",
		map[string]any{"id": id, "result": result},
	})
}

func (s *Session) resolveTarget(raw any) (any, error) {
	if raw == nil {
		return s.root, nil
	}
	// Server-managed references beyond the root object are reserved for
	// future use; today resolving one is a fatal internal error.
	s.log("session: resolution of non-root target %v is not implemented", raw)
	return nil, proto.NewInternalError()
}

// Close abandons every pending outbound call, rejecting each with an
// InternalError-equivalent. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[int]*Promise)
	s.mu.Unlock()

	for _, p := range pending {
		p.reject(proto.NewInternalError())
	}
}

// PendingCount reports how many outbound calls are awaiting a reply,
// primarily for tests and diagnostics.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
