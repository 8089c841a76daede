// Package thinserve exposes a long-lived, bidirectional RPC channel to a
// browser-style client over HTTP using JSON envelopes: session creation,
// a POST route for inbound call/reply messages, and a long-polling GET
// route for outbound ones.
package thinserve

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/yinfei8/thinserve/metrics"
	"github.com/yinfei8/thinserve/proto"
	"github.com/yinfei8/thinserve/session"
)

// Server is the API resource: an http.Handler implementing
// the three routes (POST / to create a session, POST /<sid> to deliver a
// message, GET /<sid> to long-poll for outbound ones). It is typically
// mounted under a path prefix by http.StripPrefix, or embedded in a Site
// (see site.go) alongside static file serving.
type Server struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	createSession   proto.StructFunc
	log             func(string, ...any)
	rpcLog          RPCLogger
	metrics         *metrics.M
	sessionIDSource func() (string, error)
	opts            *ServerOptions
}

// NewServer builds a Server. A nil *ServerOptions is valid; its
// create_session handler accepts no parameters and always fails with
// InternalError, so no session can be created until CreateSession is set.
func NewServer(opts *ServerOptions) *Server {
	return &Server{
		sessions:        make(map[string]*session.Session),
		createSession:   opts.createSession(),
		log:             opts.logger(),
		rpcLog:          opts.rpcLog(),
		metrics:         opts.metrics(),
		sessionIDSource: opts.sessionIDSource(),
		opts:            opts,
	}
}

// ServeHTTP implements the HTTP surface. The path seen here
// is relative to wherever the Server is mounted: "" (API root) or a
// single path segment (a session id).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, code := s.dispatch(r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}

func (s *Server) dispatch(r *http.Request) (resp any, code int) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log("thinserve: recovered panic in dispatch: %v", rec)
			resp, code = s.respond(proto.NewInternalError())
		}
	}()

	segment, perr := pathSegment(r.URL.Path)
	if perr != nil {
		return s.respond(perr)
	}

	if segment == "" {
		resp, code = s.dispatchRoot(r)
	} else {
		resp, code = s.dispatchSession(r, segment)
	}
	return resp, code
}

// respond renders a ProtocolError response and records it against the
// protocol-errors-by-kind counter.
func (s *Server) respond(err *proto.ProtocolError) (any, int) {
	if err != nil {
		s.metrics.ProtocolErrors.WithLabelValues(err.Kind().String()).Inc()
	}
	return protoErrorResponse(err)
}

// pathSegment validates that path is either empty or exactly one
// non-empty segment: "empty or exactly one session id"
// rule.
func pathSegment(path string) (string, *proto.ProtocolError) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", nil
	}
	if strings.Contains(trimmed, "/") {
		return "", proto.NewInvalidParameter("session")
	}
	return trimmed, nil
}

func (s *Server) dispatchRoot(r *http.Request) (any, int) {
	if r.Method != http.MethodPost {
		return s.respond(proto.NewUnsupportedHTTPMethod(r.Method))
	}

	body, perr := readBody(r)
	if perr != nil {
		return s.respond(perr)
	}

	parsed, perr := parseJSON(body)
	if perr != nil {
		return s.respond(perr)
	}

	lp := proto.NewLazyParser(parsed)
	root, err := lp.ApplyVariantStruct(map[string]proto.StructFunc{
		"create_session": s.createSession,
	})
	if err != nil {
		return s.respond(asProtocolError(err, s.log))
	}

	sid, ierr := s.sessionIDSource()
	if ierr != nil {
		s.log("thinserve: session id generation failed: %v", ierr)
		return s.respond(proto.NewInternalError())
	}

	sess := session.New(root,
		session.WithRegistry(s.opts.registry()),
		session.WithLogger(session.Logger(s.log)))

	s.mu.Lock()
	s.sessions[sid] = sess
	s.mu.Unlock()

	s.metrics.SessionsCreated.Inc()
	s.rpcLog.LogSession(sid)

	return map[string]any{"session": sid}, http.StatusOK
}

func (s *Server) dispatchSession(r *http.Request, sid string) (any, int) {
	sess, ok := s.getSession(sid)
	if !ok {
		return s.respond(proto.NewInvalidParameter("session"))
	}

	switch r.Method {
	case http.MethodPost:
		return s.dispatchMessage(r, sid, sess)
	case http.MethodGet:
		return s.dispatchGather(r, sid, sess)
	default:
		return s.respond(proto.NewUnsupportedHTTPMethod(r.Method))
	}
}

func (s *Server) dispatchMessage(r *http.Request, sid string, sess *session.Session) (any, int) {
	body, perr := readBody(r)
	if perr != nil {
		return s.respond(perr)
	}
	parsed, perr := parseJSON(body)
	if perr != nil {
		return s.respond(perr)
	}

	lp := proto.NewLazyParser(parsed)
	s.rpcLog.LogMessage(sid, parsed)
	s.metrics.MessagesInbound.Inc()

	if err := sess.ReceiveMessage(lp); err != nil {
		return s.respond(asProtocolError(err, s.log))
	}
	return "ok", http.StatusOK
}

func (s *Server) dispatchGather(r *http.Request, sid string, sess *session.Session) (any, int) {
	body, perr := readBody(r)
	if perr != nil {
		return s.respond(perr)
	}
	if len(strings.TrimSpace(string(body))) != 0 {
		return s.respond(proto.NewUnexpectedHTTPBody())
	}

	select {
	case batch := <-sess.GatherOutgoingMessages():
		if batch == nil {
			batch = []any{}
		}
		s.metrics.MessagesOutbound.Add(float64(len(batch)))
		return batch, http.StatusOK
	case <-r.Context().Done():
		return s.respond(proto.NewInternalError())
	}
}

func (s *Server) getSession(sid string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	return sess, ok
}

// DropSession closes and removes sid's session, if present. There is no
// implicit timeout in this core; callers that want eviction
// call this explicitly.
func (s *Server) DropSession(sid string) {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	if ok {
		delete(s.sessions, sid)
	}
	s.mu.Unlock()
	if ok {
		sess.Close()
		s.metrics.SessionsClosed.Inc()
	}
}

func readBody(r *http.Request) ([]byte, *proto.ProtocolError) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, proto.NewUnexpectedHTTPBody()
	}
	return data, nil
}

func parseJSON(body []byte) (any, *proto.ProtocolError) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, proto.NewMalformedJSON()
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, proto.NewMalformedJSON()
	}
	return v, nil
}

func protoErrorResponse(err *proto.ProtocolError) (any, int) {
	if err == nil {
		return "ok", http.StatusOK
	}
	return err.AsObject(), http.StatusBadRequest
}

func asProtocolError(err error, log func(string, ...any)) *proto.ProtocolError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*proto.ProtocolError); ok {
		return pe
	}
	log("thinserve: non-protocol failure: %v", err)
	return proto.NewInternalError()
}
