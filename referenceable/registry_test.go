package referenceable

import (
	"reflect"
	"testing"

	"github.com/yinfei8/thinserve/proto"
)

type widget struct {
	count int
}

func widgetMethods() map[string]MethodSpec {
	return map[string]MethodSpec{
		"bump": {
			Signature: proto.Signature{},
			Handler: func(instance any, args map[string]*proto.LazyParser) (any, error) {
				w := instance.(*widget)
				w.count++
				return w.count, nil
			},
		},
	}
}

func TestCheckRegisteredAndUnregistered(t *testing.T) {
	r := NewRegistry()
	RegisterFor[widget](r, widgetMethods())

	if !r.Check(&widget{}) {
		t.Error("Check(&widget{}) = false, want true")
	}
	if r.Check(widget{}) {
		t.Error("Check(widget{}) (non-pointer) = true, want false")
	}
	if r.Check("not a widget") {
		t.Error(`Check("not a widget") = true, want false`)
	}
	if r.Check(nil) {
		t.Error("Check(nil) = true, want false")
	}
}

func TestBoundMethodsDispatch(t *testing.T) {
	r := NewRegistry()
	RegisterFor[widget](r, widgetMethods())

	w := &widget{}
	methods, ok := r.BoundMethods(w)
	if !ok {
		t.Fatal("BoundMethods: ok = false, want true")
	}
	bump, ok := methods["bump"]
	if !ok {
		t.Fatal(`BoundMethods: missing "bump"`)
	}
	got, err := bump.Call(map[string]*proto.LazyParser{})
	if err != nil {
		t.Fatalf("bump.Call: unexpected error: %v", err)
	}
	if got != 1 {
		t.Errorf("bump.Call() = %v, want 1", got)
	}
}

func TestBoundMethodsMemoizesPerInstance(t *testing.T) {
	r := NewRegistry()
	RegisterFor[widget](r, widgetMethods())

	w := &widget{}
	first, _ := r.BoundMethods(w)
	second, _ := r.BoundMethods(w)
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Error("BoundMethods returned a different map on the second call for the same instance")
	}

	other := &widget{}
	third, _ := r.BoundMethods(other)
	if reflect.ValueOf(first).Pointer() == reflect.ValueOf(third).Pointer() {
		t.Error("BoundMethods returned the same map for two distinct instances")
	}
}

func TestBoundMethodsUnregisteredType(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.BoundMethods(&widget{}); ok {
		t.Error("BoundMethods on unregistered type: ok = true, want false")
	}
}

func TestStripPrefix(t *testing.T) {
	if got, want := StripPrefix("remote_", "remote_foo"), "foo"; got != want {
		t.Errorf("StripPrefix = %q, want %q", got, want)
	}
}

func TestStripPrefixPanicsWithoutPrefix(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("StripPrefix without matching prefix: expected panic, got none")
		}
	}()
	StripPrefix("remote_", "other_foo")
}
