package proto

import (
	"regexp"
	"strconv"
)

var identifierRgx = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// listSentinel is the reserved first-element marker that disambiguates a
// JSON array used as a list from one used as a tagged variant.
const listSentinel = "@LIST"

// Category is one of the JSON type categories LazyParser.ParseType checks
// against, plus the internal "variant" category used by ApplyVariant.
type Category int

const (
	ObjectCategory Category = iota
	NumberCategory
	StringCategory
	BoolCategory
	NullCategory
	ListCategory
	variantCategory
)

func (c Category) String() string {
	switch c {
	case ObjectCategory:
		return "object"
	case NumberCategory:
		return "number"
	case StringCategory:
		return "string"
	case BoolCategory:
		return "bool"
	case NullCategory:
		return "null"
	case ListCategory:
		return "list"
	case variantCategory:
		return "variant"
	default:
		return "unknown"
	}
}

func categoryOf(v any) Category {
	switch v.(type) {
	case nil:
		return NullCategory
	case bool:
		return BoolCategory
	case float64:
		return NumberCategory
	case string:
		return StringCategory
	case []any:
		return ListCategory
	case map[string]any:
		return ObjectCategory
	default:
		return variantCategory
	}
}

// Variant is the materialized form of a tagged two-element array produced
// by Unwrap.
type Variant struct {
	Tag   string
	Value any
}

// variantBody is the peeled (not-yet-unwrapped) form of a tagged array:
// the tag plus a lazy parser over its body.
type variantBody struct {
	tag  string
	body *LazyParser
}

// Param describes one named parameter of a StructFunc's Signature.
type Param struct {
	Name       string
	HasDefault bool
}

// Signature describes the named-parameter shape a StructFunc accepts, so
// that ApplyStruct can validate a payload's key set without runtime
// reflection over parameter names (Go has none). Receiver, when non-empty,
// names a parameter that must never be satisfiable from untrusted input
// (the receiver-protection / binding-safety rule).
type Signature struct {
	Receiver string
	Params   []Param
	OpenRest bool
}

func (s Signature) required() map[string]bool {
	req := map[string]bool{}
	for _, p := range s.Params {
		if !p.HasDefault && p.Name != s.Receiver {
			req[p.Name] = true
		}
	}
	return req
}

func (s Signature) allowed() map[string]bool {
	al := map[string]bool{}
	for _, p := range s.Params {
		if p.Name != s.Receiver {
			al[p.Name] = true
		}
	}
	return al
}

// StructFunc is a handler bindable via ApplyStruct: a Signature describing
// its accepted keys, plus the call itself over the bound child parsers.
type StructFunc interface {
	Signature() Signature
	Call(args map[string]*LazyParser) (any, error)
}

type structFunc struct {
	sig Signature
	fn  func(args map[string]*LazyParser) (any, error)
}

func (f structFunc) Signature() Signature { return f.sig }
func (f structFunc) Call(args map[string]*LazyParser) (any, error) {
	return f.fn(args)
}

// NewStructFunc builds a StructFunc from a Signature and an invocation
// closure, the idiomatic substitute for introspecting a callable's
// argument names.
func NewStructFunc(sig Signature, fn func(args map[string]*LazyParser) (any, error)) StructFunc {
	return structFunc{sig: sig, fn: fn}
}

// LazyParser wraps a raw JSON value together with the dotted/bracketed/
// slashed path tracking its descent from the message root. It is
// immutable; every descent operation produces new LazyParsers over
// sub-values without validating children that are never referenced.
type LazyParser struct {
	raw  any
	path string
}

// NewLazyParser wraps a decoded JSON value (as produced by encoding/json,
// i.e. nil | bool | float64 | string | []any | map[string]any) at the
// message root.
func NewLazyParser(raw any) *LazyParser {
	return &LazyParser{raw: raw, path: ""}
}

// Path reports the trajectory from the message root to this parser's
// value.
func (lp *LazyParser) Path() string { return lp.path }

// Raw returns the unvalidated JSON value this parser wraps.
func (lp *LazyParser) Raw() any { return lp.raw }

func (lp *LazyParser) child(raw any, path string) *LazyParser {
	return &LazyParser{raw: raw, path: path}
}

// peel performs exactly one level of structural decoding: deciding whether
// an array is a @LIST list, the empty list, or a tagged variant, and
// verifying identifier-ness of every object key / variant tag it touches.
// It does not descend further; the values wrapped by the returned
// sub-parsers are validated only when they are themselves peeled.
func (lp *LazyParser) peel() (any, *ProtocolError) {
	switch v := lp.raw.(type) {
	case []any:
		if len(v) == 0 {
			return []*LazyParser{}, nil
		}
		if tag, ok := v[0].(string); ok && tag == listSentinel {
			out := make([]*LazyParser, len(v)-1)
			for i, elem := range v[1:] {
				out[i] = lp.child(elem, indexPath(lp.path, i))
			}
			return out, nil
		}
		if len(v) != 2 {
			return nil, newMalformedList(lp.path, lp.raw)
		}
		tag, ok := v[0].(string)
		if !ok || !identifierRgx.MatchString(tag) {
			return nil, newMalformedVariant(lp.path, lp.raw)
		}
		body := lp.child(v[1], tagPath(lp.path, tag))
		return variantBody{tag: tag, body: body}, nil

	case map[string]any:
		out := make(map[string]*LazyParser, len(v))
		for k, val := range v {
			if !identifierRgx.MatchString(k) {
				return nil, newInvalidIdentifier(lp.path, lp.raw, k)
			}
			out[k] = lp.child(val, keyPath(lp.path, k))
		}
		return out, nil

	default:
		return v, nil
	}
}

func indexPath(base string, i int) string { return base + bracket(i) }
func keyPath(base, key string) string     { return base + "." + key }
func tagPath(base, tag string) string     { return base + "/" + tag }

func bracket(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// ParsePredicate returns the underlying peeled value if pred holds,
// otherwise a FailedPredicate error carrying desc.
func (lp *LazyParser) ParsePredicate(pred func(any) bool, desc string) (any, error) {
	v, err := lp.peel()
	if err != nil {
		return nil, err
	}
	if pred(v) {
		return v, nil
	}
	return nil, newFailedPredicate(lp.path, lp.raw, desc)
}

// ParseType checks that the wrapped value belongs to category c, returning
// its peeled form (the decoded @LIST tail for lists, the key->parser map
// for objects, or the raw scalar otherwise).
func (lp *LazyParser) ParseType(c Category) (any, error) {
	v, err := lp.peel()
	if err != nil {
		return nil, err
	}
	switch c {
	case ListCategory:
		if lst, ok := v.([]*LazyParser); ok {
			return lst, nil
		}
	case ObjectCategory:
		if obj, ok := v.(map[string]*LazyParser); ok {
			return obj, nil
		}
	case variantCategory:
		if vb, ok := v.(variantBody); ok {
			return vb, nil
		}
	case NumberCategory:
		if _, ok := v.(float64); ok {
			return v, nil
		}
	case StringCategory:
		if _, ok := v.(string); ok {
			return v, nil
		}
	case BoolCategory:
		if _, ok := v.(bool); ok {
			return v, nil
		}
	case NullCategory:
		if v == nil {
			return v, nil
		}
	}
	return nil, newUnexpectedType(lp.path, lp.raw, categoryOf(lp.raw).String(), c.String())
}

// Iterator is the lazy, finite, non-restartable sequence of child
// LazyParsers produced by Iter.
type Iterator struct {
	items []*LazyParser
	pos   int
}

// Next returns the next child parser, or ok=false once exhausted.
func (it *Iterator) Next() (*LazyParser, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

// Len reports how many items remain unread.
func (it *Iterator) Len() int { return len(it.items) - it.pos }

// Iter requires the wrapped value to be a list, and returns an iterator
// over its elements at paths "<path>[i]".
func (lp *LazyParser) Iter() (*Iterator, error) {
	v, err := lp.ParseType(ListCategory)
	if err != nil {
		return nil, err
	}
	return &Iterator{items: v.([]*LazyParser)}, nil
}

// ApplyStruct requires the wrapped value to be an object whose keys are
// exactly sf's declared required parameter names (modulo defaults and an
// open named-rest capability), with no key colliding with a protected
// receiver parameter, then invokes sf with the bound child parsers.
func (lp *LazyParser) ApplyStruct(sf StructFunc) (any, error) {
	v, err := lp.ParseType(ObjectCategory)
	if err != nil {
		return nil, err
	}
	obj := v.(map[string]*LazyParser)

	sig := sf.Signature()
	required := sig.required()
	allowed := sig.allowed()

	var missing []string
	for name := range required {
		if _, ok := obj[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, newMissingStructKeys(lp.path, lp.raw, missing)
	}

	if !sig.OpenRest {
		var unknown []string
		for key := range obj {
			if !allowed[key] {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			return nil, newUnexpectedStructKeys(lp.path, lp.raw, unknown)
		}
	} else if sig.Receiver != "" {
		if _, ok := obj[sig.Receiver]; ok {
			return nil, newUnexpectedStructKeys(lp.path, lp.raw, []string{sig.Receiver})
		}
	}

	return sf.Call(obj)
}

// ApplyVariant requires the wrapped value to be a tagged variant [tag,
// body] with tag a valid identifier present in handlers, and invokes the
// matching handler with a child parser over the body.
func (lp *LazyParser) ApplyVariant(handlers map[string]func(*LazyParser) (any, error)) (any, error) {
	v, err := lp.ParseType(variantCategory)
	if err != nil {
		return nil, err
	}
	vb := v.(variantBody)

	h, ok := handlers[vb.tag]
	if !ok {
		known := make([]string, 0, len(handlers))
		for k := range handlers {
			known = append(known, k)
		}
		return nil, newUnknownVariantTag(lp.path, lp.raw, vb.tag, known)
	}
	return h(vb.body)
}

// ApplyVariantStruct is sugar for ApplyVariant that additionally calls
// ApplyStruct(handlers[tag]) on the matched body.
func (lp *LazyParser) ApplyVariantStruct(handlers map[string]StructFunc) (any, error) {
	wrapped := make(map[string]func(*LazyParser) (any, error), len(handlers))
	for tag, sf := range handlers {
		sf := sf
		wrapped[tag] = func(body *LazyParser) (any, error) {
			return body.ApplyStruct(sf)
		}
	}
	return lp.ApplyVariant(wrapped)
}

// Unwrap recursively materializes the wrapped value into a plain Go
// structure: []any for lists, Variant for tagged arrays, map[string]any
// for objects, and the raw scalar otherwise. It fails identically to
// ParseType/ApplyVariant on any malformed substructure it touches.
func (lp *LazyParser) Unwrap() (any, error) {
	v, err := lp.peel()
	if err != nil {
		return nil, err
	}
	switch vv := v.(type) {
	case []*LazyParser:
		out := make([]any, len(vv))
		for i, child := range vv {
			u, err := child.Unwrap()
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	case variantBody:
		u, err := vv.body.Unwrap()
		if err != nil {
			return nil, err
		}
		return Variant{Tag: vv.tag, Value: u}, nil
	case map[string]*LazyParser:
		out := make(map[string]any, len(vv))
		for k, child := range vv {
			u, err := child.Unwrap()
			if err != nil {
				return nil, err
			}
			out[k] = u
		}
		return out, nil
	default:
		return v, nil
	}
}
