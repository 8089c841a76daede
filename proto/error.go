// Package proto implements the wire-protocol core: the structural,
// path-tracking JSON validator (LazyParser) and the protocol error
// taxonomy it raises.
package proto

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the variety of a ProtocolError. Kinds are comparable and
// serialize as the error's template string.
type Kind int

const (
	// InternalError covers any failure not otherwise classified; the
	// original diagnostic is logged, never serialized to the client.
	InternalError Kind = iota
	UnsupportedHTTPMethod
	UnexpectedHTTPBody
	MalformedJSON
	InvalidParameter

	// The malformed-message family: all carry Path() and Message().
	UnexpectedType
	FailedPredicate
	InvalidIdentifier
	MalformedList
	MalformedVariant
	UnknownVariantTag
	UnexpectedStructKeys
	MissingStructKeys
)

var kindNames = map[Kind]string{
	InternalError:         "InternalError",
	UnsupportedHTTPMethod: "UnsupportedHTTPMethod",
	UnexpectedHTTPBody:    "UnexpectedHTTPBody",
	MalformedJSON:         "MalformedJSON",
	InvalidParameter:      "InvalidParameter",
	UnexpectedType:        "UnexpectedType",
	FailedPredicate:       "FailedPredicate",
	InvalidIdentifier:     "InvalidIdentifier",
	MalformedList:         "MalformedList",
	MalformedVariant:      "MalformedVariant",
	UnknownVariantTag:     "UnknownVariantTag",
	UnexpectedStructKeys:  "UnexpectedStructKeys",
	MissingStructKeys:     "MissingStructKeys",
}

// String returns the taxonomy name of k (e.g. "UnexpectedType"), for use
// as a metrics label or log field; it is distinct from Template(), which
// is the client-facing wire string.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

var templates = map[Kind]string{
	InternalError:         "internal error",
	UnsupportedHTTPMethod: `unsupported HTTP method "{method}"`,
	UnexpectedHTTPBody:    "unexpected HTTP body",
	MalformedJSON:         "malformed JSON",
	InvalidParameter:      `invalid parameter "{name}"`,

	UnexpectedType:       "unexpected type {actual}, expecting {expected}",
	FailedPredicate:      "failed predicate: {description}",
	InvalidIdentifier:    "invalid identifier {ident}",
	MalformedList:        "expected list [\"@LIST\", ...] or []",
	MalformedVariant:     "expected variant [<tag>, <value>]",
	UnknownVariantTag:    "unknown variant tag {tag}",
	UnexpectedStructKeys: "unexpected struct keys {keys}",
	MissingStructKeys:    "missing struct keys {keys}",
}

// malformedKinds marks the family of errors that carry a path and an
// offending-fragment message.
var malformedKinds = map[Kind]bool{
	UnexpectedType:       true,
	FailedPredicate:      true,
	InvalidIdentifier:    true,
	MalformedList:        true,
	MalformedVariant:     true,
	UnknownVariantTag:    true,
	UnexpectedStructKeys: true,
	MissingStructKeys:    true,
}

// ProtocolError is a structured, client-visible protocol failure. It always
// carries a template and a parameter map; malformed-message kinds
// additionally carry a path into the offending JSON and the raw offending
// fragment.
type ProtocolError struct {
	kind    Kind
	params  map[string]any
	path    string
	message any
	hasPath bool
}

// newError builds a non-malformed ProtocolError (no path/message).
func newError(k Kind, params map[string]any) *ProtocolError {
	return &ProtocolError{kind: k, params: params}
}

// newMalformed builds a malformed-message ProtocolError.
func newMalformed(k Kind, path string, message any, params map[string]any) *ProtocolError {
	return &ProtocolError{kind: k, params: params, path: path, message: message, hasPath: true}
}

// NewInternalError builds the opaque internal-error value returned to
// clients when an unexpected failure is coerced.
func NewInternalError() *ProtocolError { return newError(InternalError, map[string]any{}) }

// NewUnsupportedHTTPMethod reports an HTTP verb this server does not serve.
func NewUnsupportedHTTPMethod(method string) *ProtocolError {
	return newError(UnsupportedHTTPMethod, map[string]any{"method": method})
}

// NewUnexpectedHTTPBody reports a non-empty body where none was expected.
func NewUnexpectedHTTPBody() *ProtocolError { return newError(UnexpectedHTTPBody, map[string]any{}) }

// NewMalformedJSON reports a request body that failed to parse as JSON.
func NewMalformedJSON() *ProtocolError { return newError(MalformedJSON, map[string]any{}) }

// NewInvalidParameter reports an out-of-band addressing failure (unknown
// session id, bad postpath, unknown call id, ...).
func NewInvalidParameter(name string) *ProtocolError {
	return newError(InvalidParameter, map[string]any{"name": name})
}

func newUnexpectedType(path string, fragment any, actual, expected string) *ProtocolError {
	return newMalformed(UnexpectedType, path, fragment, map[string]any{"actual": actual, "expected": expected})
}

func newFailedPredicate(path string, fragment any, description string) *ProtocolError {
	return newMalformed(FailedPredicate, path, fragment, map[string]any{"description": description})
}

func newInvalidIdentifier(path string, fragment any, ident string) *ProtocolError {
	return newMalformed(InvalidIdentifier, path, fragment, map[string]any{"ident": ident})
}

func newMalformedList(path string, fragment any) *ProtocolError {
	return newMalformed(MalformedList, path, fragment, map[string]any{})
}

func newMalformedVariant(path string, fragment any) *ProtocolError {
	return newMalformed(MalformedVariant, path, fragment, map[string]any{})
}

func newUnknownVariantTag(path string, fragment any, tag string, knownTags []string) *ProtocolError {
	sorted := append([]string(nil), knownTags...)
	sort.Strings(sorted)
	return newMalformed(UnknownVariantTag, path, fragment, map[string]any{"tag": tag, "knowntags": sorted})
}

func newUnexpectedStructKeys(path string, fragment any, keys []string) *ProtocolError {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return newMalformed(UnexpectedStructKeys, path, fragment, map[string]any{"keys": sorted})
}

func newMissingStructKeys(path string, fragment any, keys []string) *ProtocolError {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return newMalformed(MissingStructKeys, path, fragment, map[string]any{"keys": sorted})
}

// Kind reports which taxonomy member this error belongs to.
func (e *ProtocolError) Kind() Kind { return e.kind }

// Path reports the dotted/bracketed/slashed trajectory from the message
// root to the offending node. Empty for non-malformed kinds.
func (e *ProtocolError) Path() string { return e.path }

// Message returns the raw offending JSON fragment, for malformed-message
// kinds. Nil for non-malformed kinds.
func (e *ProtocolError) Message() any { return e.message }

// Template returns the kind's human-readable template string, with
// `{name}`-style placeholders matching the keys of Params().
func (e *ProtocolError) Template() string { return templates[e.kind] }

// Params returns the named parameters substituted into Template.
func (e *ProtocolError) Params() map[string]any { return e.params }

// Error implements the standard error interface by rendering the template
// against its parameters.
func (e *ProtocolError) Error() string {
	msg := e.Template()
	for k, v := range e.params {
		msg = strings.ReplaceAll(msg, "{"+k+"}", fmt.Sprint(v))
	}
	return msg
}

// AsObject renders the wire form of the error: {template, params, path?,
// message?}.
func (e *ProtocolError) AsObject() map[string]any {
	obj := map[string]any{
		"template": e.Template(),
		"params":   e.params,
	}
	if e.hasPath {
		obj["path"] = e.path
		obj["message"] = e.message
	}
	return obj
}

// IsMalformed reports whether e belongs to the malformed-message family
// (carries Path/Message).
func (e *ProtocolError) IsMalformed() bool { return malformedKinds[e.kind] }
