// Package referenceable is the explicit-allowlist policy for which Go
// types may be the target of a remote call and which of their methods are
// remotely invocable. It never reflects over arbitrary application code:
// every exposed method is registered up front as an explicit table of
// (exposed name) -> (signature, dispatcher).
package referenceable

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/yinfei8/thinserve/proto"
)

// MethodSpec is one remotely invocable method of a registered type: the
// parameter signature ApplyStruct validates against, and the dispatcher
// that runs once binding succeeds.
type MethodSpec struct {
	Signature proto.Signature
	Handler   func(instance any, args map[string]*proto.LazyParser) (any, error)
}

// Registry is a process-wide table mapping a type identity to its set of
// remotely accessible methods, keyed by exposed name, plus a per-instance
// cache of bound dispatchers.
//
// The cache is keyed by pointer identity (not the instance itself, which
// would keep it alive forever); a finalizer on each instance evicts its
// cache entry when the instance becomes unreachable, giving a
// memoized-via-weak-references behavior without a weak-map dependency.
type Registry struct {
	mu      sync.Mutex
	classes map[reflect.Type]map[string]MethodSpec
	cache   map[uintptr]map[string]proto.StructFunc
}

// NewRegistry constructs an empty registry. Most callers use the process
// default via Register/Check/BoundMethods instead of managing their own.
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[reflect.Type]map[string]MethodSpec),
		cache:   make(map[uintptr]map[string]proto.StructFunc),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Register/Check/
// BoundMethods.
func Default() *Registry { return defaultRegistry }

// Register marks typ (which must be a pointer type) as referenceable,
// exposing methods under the given names.
func (r *Registry) Register(typ reflect.Type, methods map[string]MethodSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]MethodSpec, len(methods))
	for k, v := range methods {
		copied[k] = v
	}
	r.classes[typ] = copied
}

// RegisterFor is Register specialized to a pointer-to-T type, the common
// case of registering an application's root object type.
func RegisterFor[T any](r *Registry, methods map[string]MethodSpec) {
	r.Register(reflect.TypeOf((*T)(nil)), methods)
}

// StripPrefix strips prefix from name, for registering a method under a
// name with its implementation prefix removed (e.g. "remote_foo" exposed
// as "foo").
func StripPrefix(prefix, name string) string {
	if !strings.HasPrefix(name, prefix) {
		panic(fmt.Sprintf("referenceable: %q does not have prefix %q", name, prefix))
	}
	return strings.TrimPrefix(name, prefix)
}

// Check reports whether obj's type is registered.
func (r *Registry) Check(obj any) bool {
	typ, ok := pointerType(obj)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok = r.classes[typ]
	return ok
}

// BoundMethods returns a memoized exposed-name -> bound-dispatcher map for
// obj, or ok=false if obj's type is not registered. Callers (the session)
// must refuse to dispatch when ok is false.
func (r *Registry) BoundMethods(obj any) (map[string]proto.StructFunc, bool) {
	typ, ok := pointerType(obj)
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	specs, ok := r.classes[typ]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	key := reflect.ValueOf(obj).Pointer()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, true
	}
	r.mu.Unlock()

	bound := make(map[string]proto.StructFunc, len(specs))
	for name, spec := range specs {
		spec := spec
		bound[name] = proto.NewStructFunc(spec.Signature, func(args map[string]*proto.LazyParser) (any, error) {
			return spec.Handler(obj, args)
		})
	}

	r.mu.Lock()
	r.cache[key] = bound
	r.mu.Unlock()

	runtime.SetFinalizer(obj, func(any) {
		r.mu.Lock()
		delete(r.cache, key)
		r.mu.Unlock()
	})

	return bound, true
}

func pointerType(obj any) (reflect.Type, bool) {
	if obj == nil {
		return nil, false
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr {
		return nil, false
	}
	return rv.Type(), true
}

// Package-level convenience wrappers over the default registry.

// Register marks typ as referenceable on the default registry.
func Register(typ reflect.Type, methods map[string]MethodSpec) {
	defaultRegistry.Register(typ, methods)
}

// Check reports whether obj's type is registered on the default registry.
func Check(obj any) bool { return defaultRegistry.Check(obj) }

// BoundMethods returns obj's bound dispatchers from the default registry.
func BoundMethods(obj any) (map[string]proto.StructFunc, bool) {
	return defaultRegistry.BoundMethods(obj)
}
