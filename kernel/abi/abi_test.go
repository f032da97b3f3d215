package abi

import (
	"testing"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/trap"
)

type fakeModule struct{ name string }

func (m fakeModule) Name() string { return m.name }
func (m fakeModule) HandleSyscall(tf *trap.Trapframe) *kernel.Error { return nil }

func resetRegistry() func() {
	orig := registry
	registry = map[string]Module{}
	return func() { registry = orig }
}

func TestRegisterAndLookup(t *testing.T) {
	defer resetRegistry()()

	m := fakeModule{name: "test-abi"}
	Register(m)

	got, ok := Lookup("test-abi")
	if !ok {
		t.Fatal("expected Lookup to find the registered module")
	}
	if got.Name() != "test-abi" {
		t.Errorf("Lookup returned module named %q, want %q", got.Name(), "test-abi")
	}
}

func TestLookupUnknown(t *testing.T) {
	defer resetRegistry()()

	if _, ok := Lookup("does-not-exist"); ok {
		t.Error("expected Lookup to fail for an unregistered name")
	}
}

func TestNames(t *testing.T) {
	defer resetRegistry()()

	Register(fakeModule{name: "a"})
	Register(fakeModule{name: "b"})

	names := Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 registered names, got %d: %v", len(names), names)
	}

	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("Names() = %v, want to contain both \"a\" and \"b\"", names)
	}
}
