package thinserve

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/yinfei8/thinserve/metrics"
	"github.com/yinfei8/thinserve/proto"
	"github.com/yinfei8/thinserve/referenceable"
)

// RPCLogger is an optional synchronous hook for recording the receipt of
// inbound messages and the creation of sessions. The callbacks are
// invoked synchronously with request processing.
type RPCLogger interface {
	// LogMessage is called for each inbound call/reply message, after it
	// has been parsed but before it is dispatched.
	LogMessage(sid string, msg any)

	// LogSession is called once a session is created.
	LogSession(sid string)
}

type nullRPCLogger struct{}

func (nullRPCLogger) LogMessage(string, any) {}
func (nullRPCLogger) LogSession(string)       {}

// ServerOptions control the behavior of a Server created by NewServer. A nil
// *ServerOptions (or a ServerOptions with CreateSession left unset)
// provides a create_session handler that accepts no parameters.
type ServerOptions struct {
	// CreateSession is invoked with the params object of a
	// ["create_session", {...}] request and must return the session's
	// root Referenceable object. If nil, a handler accepting no
	// parameters and rejecting with InternalError is used; callers
	// almost always want to set this.
	CreateSession proto.StructFunc

	// If not nil, registry used to check/bind referenceable targets.
	// Defaults to referenceable.Default().
	Registry *referenceable.Registry

	// If not nil, send debug logs here.
	Logger *log.Logger

	// If not nil, the methods of this value are called around dispatch.
	RPCLog RPCLogger

	// If not nil, use this collector set. Defaults to a private metrics.New().
	Metrics *metrics.M

	// If not nil, used to mint new session ids instead of 16 random
	// bytes hex-encoded (the default).
	SessionIDSource func() (string, error)
}

func (o *ServerOptions) logger() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	l := o.Logger
	return func(msg string, args ...any) { l.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *ServerOptions) rpcLog() RPCLogger {
	if o == nil || o.RPCLog == nil {
		return nullRPCLogger{}
	}
	return o.RPCLog
}

func (o *ServerOptions) registry() *referenceable.Registry {
	if o == nil || o.Registry == nil {
		return referenceable.Default()
	}
	return o.Registry
}

func (o *ServerOptions) metrics() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}

func (o *ServerOptions) createSession() proto.StructFunc {
	if o == nil || o.CreateSession == nil {
		return proto.NewStructFunc(proto.Signature{}, func(map[string]*proto.LazyParser) (any, error) {
			return nil, proto.NewInternalError()
		})
	}
	return o.CreateSession
}

func (o *ServerOptions) sessionIDSource() func() (string, error) {
	if o == nil || o.SessionIDSource == nil {
		return randomSessionID
	}
	return o.SessionIDSource
}

// randomSessionID returns a lowercase hex string of 16 bytes (32 hex
// digits). It is built from a random (version 4) UUID's raw bytes rather
// than reading crypto/rand directly, so the entropy source can be swapped
// consistently with other identifier generation in the codebase. A
// version 4 UUID has 6 fixed version/variant bits, so such an id carries
// 122 bits of entropy, not 128; only the crypto/rand fallback below
// yields 16 fully random bytes.
func randomSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if the system entropy source does;
		// fall back to crypto/rand directly rather than surface a
		// confusing uuid-flavored error for what is really "no entropy".
		var buf [16]byte
		if _, err2 := rand.Read(buf[:]); err2 != nil {
			return "", err2
		}
		return hex.EncodeToString(buf[:]), nil
	}
	return hex.EncodeToString(id[:]), nil
}
