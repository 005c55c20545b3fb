package discovery

import (
	"strings"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	if r.Len() != 10 {
		t.Fatalf("expected 10 built-in patterns, got %d", r.Len())
	}
	patterns := r.Patterns()
	if patterns[0].Name != "direct_device_chain" || patterns[0].Expr != "//DeviceChain" {
		t.Errorf("first pattern = %+v", patterns[0])
	}

	// Patterns returns a copy.
	patterns[0].Name = "mutated"
	if r.Patterns()[0].Name != "direct_device_chain" {
		t.Error("Patterns should not expose internal state")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Pattern{Name: "sidechain", Expr: "//SideChain"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(Pattern{Name: "sidechain", Expr: "//Other"})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if err := r.Register(Pattern{Name: "broken", Expr: "//[["}); err == nil {
		t.Error("expected compile error for invalid expression")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestNewPattern_Invalid(t *testing.T) {
	if _, err := NewPattern("bad", "//*["); err == nil {
		t.Fatal("expected error")
	}
}
